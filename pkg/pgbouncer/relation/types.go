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

// Package relation provides typed access to relation data buckets. A relation
// instance carries one bucket per (side, scope); the local side may only mutate
// its own scopes, while remote scopes are a read-only view maintained by the
// operator on the other side of the relation. Delivery of remote changes is
// eventual and at-least-once, so every consumer re-derives its state from the
// latest bucket contents instead of trusting event ordering.
package relation

import (
	"context"
	"fmt"
)

// Scope identifies one of the four data buckets carried by a relation instance.
type Scope string

const (
	// LocalApp is the application-level bucket written by this operator's leader
	LocalApp Scope = "local-app"

	// LocalUnit is the per-unit bucket written by this unit. The backing
	// store keys unit scopes without a unit identity, so exactly one writer
	// per relation instance is assumed; per-unit secret material (TLS keys,
	// CSRs) is originated by the leader only and reaches the other units
	// through the peer bucket.
	LocalUnit Scope = "local-unit"

	// RemoteApp is the application-level bucket owned by the remote side
	RemoteApp Scope = "remote-app"

	// RemoteUnit is the per-unit bucket owned by the remote side
	RemoteUnit Scope = "remote-unit"
)

// IsLocal returns true for scopes this operator is allowed to write.
func (s Scope) IsLocal() bool {
	return s == LocalApp || s == LocalUnit
}

// Key identifies a relation instance.
type Key struct {
	Relation string
	ID       int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Relation, k.ID)
}

// Bucket is a snapshot of one scope's key-value data. Mutating a Bucket never
// affects the underlying store.
type Bucket map[string]string

// Get returns the value for key, or "" when absent.
func (b Bucket) Get(key string) string {
	if b == nil {
		return ""
	}
	return b[key]
}

// Has reports whether key is present.
func (b Bucket) Has(key string) bool {
	if b == nil {
		return false
	}
	_, ok := b[key]
	return ok
}

// Copy returns an independent copy of the bucket.
func (b Bucket) Copy() Bucket {
	out := make(Bucket, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Store provides read/write access to relation buckets. Writes are visible
// immediately to the local reconcile cycle; remote units observe them only
// after their own event delivery. There is no transactional multi-key write
// guarantee; use PublishVersioned for multi-key updates that remote readers
// must never observe partially.
type Store interface {
	// List returns the keys of every instance of the named relation, ordered by id.
	List(ctx context.Context, relation string) ([]Key, error)

	// Read returns a snapshot of one scope's bucket. A missing relation instance
	// yields an empty bucket, not an error.
	Read(ctx context.Context, key Key, scope Scope) (Bucket, error)

	// Write merges kv into a local scope's bucket. Writing a remote scope is an error.
	Write(ctx context.Context, key Key, scope Scope, kv map[string]string) error

	// DeleteKeys removes keys from a local scope's bucket.
	DeleteKeys(ctx context.Context, key Key, scope Scope, keys []string) error
}
