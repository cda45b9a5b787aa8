// Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relation

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemStore is an in-memory Store used by tests. SeedRemote allows tests to
// play the role of the remote side of a relation.
type MemStore struct {
	mu      sync.Mutex
	buckets map[Key]map[Scope]Bucket
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: map[Key]map[Scope]Bucket{}}
}

// List returns the keys of every instance of the named relation, ordered by id.
func (s *MemStore) List(ctx context.Context, relation string) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []Key
	for k := range s.buckets {
		if k.Relation == relation {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// Read returns a snapshot of one scope's bucket.
func (s *MemStore) Read(ctx context.Context, key Key, scope Scope) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes, ok := s.buckets[key]
	if !ok {
		return Bucket{}, nil
	}
	return scopes[scope].Copy(), nil
}

// Write merges kv into a local scope's bucket.
func (s *MemStore) Write(ctx context.Context, key Key, scope Scope, kv map[string]string) error {
	if !scope.IsLocal() {
		return errors.Errorf("scope %s of relation %s is owned by the remote side", scope, key)
	}
	s.set(key, scope, kv)
	return nil
}

// DeleteKeys removes keys from a local scope's bucket.
func (s *MemStore) DeleteKeys(ctx context.Context, key Key, scope Scope, keys []string) error {
	if !scope.IsLocal() {
		return errors.Errorf("scope %s of relation %s is owned by the remote side", scope, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if scopes, ok := s.buckets[key]; ok {
		for _, k := range keys {
			delete(scopes[scope], k)
		}
	}
	return nil
}

// SeedRemote writes into a remote scope, acting as the relation's other side.
func (s *MemStore) SeedRemote(key Key, scope Scope, kv map[string]string) {
	s.set(key, scope, kv)
}

// RemoveRelation deletes every bucket of a relation instance, simulating
// relation removal.
func (s *MemStore) RemoveRelation(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

func (s *MemStore) set(key Key, scope Scope, kv map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes, ok := s.buckets[key]
	if !ok {
		scopes = map[Scope]Bucket{}
		s.buckets[key] = scopes
	}
	bucket, ok := scopes[scope]
	if !ok {
		bucket = Bucket{}
		scopes[scope] = bucket
	}
	for k, v := range kv {
		bucket[k] = v
	}
}
