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

// Package clients manages the pooler's client-facing relations. The modern
// "database" interface and the two legacy variants ("db" read-write, "db-admin"
// superuser-equivalent) all map onto the same pool assignment model. This
// operator drives client configuration; remote-side changes never trigger a
// special action beyond the normal reconcile.
package clients

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-password/password"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

// kubernetes logger used by the clients package
var log = logf.Log.WithName("pgbouncer.clients")

// AccessMode distinguishes read-write pools from read-only replica pools.
type AccessMode string

const (
	// ReadWrite pools target the backend primary
	ReadWrite AccessMode = "read-write"

	// ReadOnly pools target backend replicas
	ReadOnly AccessMode = "read-only"
)

// Assignment pairs a client relation with its logical pool. One assignment
// exists per client relation; it is created when the relation joins and
// destroyed when the relation is removed.
type Assignment struct {
	Key      relation.Key
	Database string
	Mode     AccessMode
	Admin    bool
}

// clientRelationNames lists the interfaces this manager serves, in the order
// assignments are reported.
var clientRelationNames = []string{
	splcommon.ClientRelationName,
	splcommon.DbRelationName,
	splcommon.DbAdminRelationName,
}

// Manager allocates pool names for client relations and publishes connection
// info back to them.
type Manager struct {
	Store relation.Store
}

// PoolName derives the logical database name for a client relation. The
// relation id suffix makes names collision-free by construction, regardless of
// what database name the client requested.
func PoolName(requested string, id int) string {
	base := splcommon.SanitizeName(requested)
	if base == "" {
		base = "db"
	}
	return fmt.Sprintf("%s_rel_%d", base, id)
}

// ActiveAssignments returns one assignment per live client relation, ordered
// by relation name then id. The sequence is consumed by the reconcile loop for
// config rendering.
func (m *Manager) ActiveAssignments(ctx context.Context) ([]Assignment, error) {
	var assignments []Assignment
	for _, name := range clientRelationNames {
		keys, err := m.Store.List(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			remote, err := m.Store.Read(ctx, key, relation.RemoteApp)
			if err != nil {
				return nil, err
			}
			assignments = append(assignments, Assignment{
				Key:      key,
				Database: PoolName(remote.Get(splcommon.ClientDatabaseKey), key.ID),
				Mode:     ReadWrite,
				Admin:    isAdmin(name, remote),
			})
		}
	}
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].Key.Relation != assignments[j].Key.Relation {
			return assignments[i].Key.Relation < assignments[j].Key.Relation
		}
		return assignments[i].Key.ID < assignments[j].Key.ID
	})
	return assignments, nil
}

// EnsureCredentials returns the username and password for a client relation,
// generating and persisting them in the relation's local app bucket on first
// use. Only the leader calls this; followers read what the leader published.
func (m *Manager) EnsureCredentials(ctx context.Context, key relation.Key) (string, string, error) {
	local, err := m.Store.Read(ctx, key, relation.LocalApp)
	if err != nil {
		return "", "", err
	}

	user := local.Get(splcommon.ClientUsernameKey)
	pass := local.Get(splcommon.ClientPasswordKey)
	if user != "" && pass != "" {
		return user, pass, nil
	}

	user = fmt.Sprintf("relation_%d", key.ID)
	pass, err = password.Generate(splcommon.PasswordLength, 8, 0, false, true)
	if err != nil {
		return "", "", errors.Wrap(err, "unable to generate client password")
	}

	err = m.Store.Write(ctx, key, relation.LocalApp, map[string]string{
		splcommon.ClientUsernameKey: user,
		splcommon.ClientPasswordKey: pass,
	})
	if err != nil {
		return "", "", err
	}
	log.Info("Generated credentials for client relation", "relation", key.Relation, "id", key.ID)
	return user, pass, nil
}

// ConnectionInfo is what gets published back to a client relation.
type ConnectionInfo struct {
	Host              string
	Port              string
	ReadOnlyEndpoints []string
	Version           string
}

// PublishConnectionInfo writes the pooler's connection endpoint for one
// assignment into the relation's local app bucket. Identical publishes are
// no-ops at the store layer, keeping the operation idempotent under duplicate
// event delivery.
func (m *Manager) PublishConnectionInfo(ctx context.Context, a Assignment, info ConnectionInfo, user, pass string) error {
	kv := map[string]string{
		splcommon.ClientDatabaseKey:  a.Database,
		splcommon.ClientEndpointsKey: fmt.Sprintf("%s:%s", info.Host, info.Port),
		splcommon.ClientUsernameKey:  user,
		splcommon.ClientPasswordKey:  pass,
	}
	if len(info.ReadOnlyEndpoints) > 0 {
		kv[splcommon.ClientReadOnlyEndpointsKey] = strings.Join(info.ReadOnlyEndpoints, ",")
	}
	if info.Version != "" {
		kv[splcommon.ClientVersionKey] = info.Version
	}
	return m.Store.Write(ctx, a.Key, relation.LocalApp, kv)
}

func isAdmin(relationName string, remote relation.Bucket) bool {
	if relationName == splcommon.DbAdminRelationName {
		return true
	}
	roles := strings.ToUpper(remote.Get(splcommon.ClientExtraUserRolesKey))
	return strings.Contains(roles, "SUPERUSER") || strings.Contains(roles, "ADMIN")
}
