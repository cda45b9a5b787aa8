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

// Package backend tracks the single backend-database relation and extracts
// the connection information published by the PostgreSQL provider. Extraction
// is a pure read re-derived on every reconcile; the provider may rotate
// credentials at any time and signals this with a relation-changed event, so
// nothing here is cached.
package backend

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

// ConnectionInfo describes how to reach the backing PostgreSQL service.
// Absence of this information means the pooler must not start.
type ConnectionInfo struct {
	Host              string
	Port              string
	User              string
	Password          string
	Database          string
	Version           string
	ReadOnlyEndpoints []string
}

// AuthUser derives the auth_query owner for this backend connection.
func (c *ConnectionInfo) AuthUser() string {
	return common.GetAuthUserName(c.User)
}

// Watcher reads the backend-database relation.
type Watcher struct {
	Store relation.Store
}

// Relation returns the key of the backend relation instance, or nil when the
// relation has not been joined. The relation is declared with limit 1; with
// multiple present the lowest id wins.
func (w *Watcher) Relation(ctx context.Context) (*relation.Key, error) {
	keys, err := w.Store.List(ctx, common.BackendRelationName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

// ConnectionInfo extracts backend connection info from the relation's remote
// app bucket. Missing mandatory fields yield ErrNotReady; a malformed
// endpoint yields ErrInvalid.
func (w *Watcher) ConnectionInfo(ctx context.Context) (*ConnectionInfo, error) {
	key, err := w.Relation(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.Wrap(common.ErrNotReady, "backend-database relation not joined")
	}

	bucket, err := w.Store.Read(ctx, *key, relation.RemoteApp)
	if err != nil {
		return nil, err
	}
	return Extract(bucket)
}

// Extract derives ConnectionInfo from a backend relation bucket.
func Extract(bucket relation.Bucket) (*ConnectionInfo, error) {
	endpoints := bucket.Get(common.BackendEndpointsKey)
	user := bucket.Get(common.BackendUsernameKey)
	password := bucket.Get(common.BackendPasswordKey)
	if endpoints == "" || user == "" || password == "" {
		return nil, errors.Wrap(common.ErrNotReady, "backend connection info incomplete")
	}

	host, port, err := splitEndpoint(primaryEndpoint(endpoints))
	if err != nil {
		return nil, errors.Wrapf(common.ErrInvalid, "bad backend endpoint %q", endpoints)
	}

	database := bucket.Get(common.BackendDatabaseKey)
	if database == "" {
		database = "pgbouncer"
	}

	return &ConnectionInfo{
		Host:              host,
		Port:              port,
		User:              user,
		Password:          password,
		Database:          database,
		Version:           bucket.Get(common.BackendVersionKey),
		ReadOnlyEndpoints: parseReadOnlyEndpoints(bucket.Get(common.BackendReadOnlyEndpointsKey)),
	}, nil
}

func primaryEndpoint(endpoints string) string {
	return strings.TrimSpace(strings.Split(endpoints, ",")[0])
}

func splitEndpoint(endpoint string) (string, string, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil || host == "" {
		return "", "", errors.Errorf("endpoint %q is not host:port", endpoint)
	}
	return host, port, nil
}

func parseReadOnlyEndpoints(value string) []string {
	if value == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range strings.Split(value, ",") {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
