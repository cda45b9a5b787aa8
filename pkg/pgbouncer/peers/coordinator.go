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

// Package peers coordinates shared secrets across the pooler's unit set. The
// leader unit is the only writer of secret material; followers read what the
// leader published and apply it locally. Leadership is assigned by the
// surrounding runtime and consumed here as an injected boolean, never decided
// in this package. Delivery of peer changes is eventual, at-least-once and
// possibly reordered, so followers always re-derive from the latest bucket
// contents rather than trusting event order.
package peers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-password/password"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

// kubernetes logger used by the peers package
var log = logf.Log.WithName("pgbouncer.peers")

// Peer bucket keys carrying the replicated secret set.
const (
	authFileKey           = splcommon.AuthFileKey
	authPasswordKey       = splcommon.AuthPasswordKey
	monitoringPasswordKey = splcommon.MonitoringPasswordKey
	tlsKeyKey             = "tls-key"
	tlsCertKey            = "tls-cert"
	tlsCAKey              = "tls-ca"
)

// SecretSet is the material every unit needs to run the pooler: the rendered
// auth file and the TLS key pair. All units converge to the same set within
// one reconcile cycle after a change.
type SecretSet struct {
	AuthFile           string
	AuthPassword       string
	MonitoringPassword string
	TLSKey             string
	TLSCert            string
	TLSCA              string
}

// Version is attached when a set was read from the peer bucket.
type VersionedSet struct {
	SecretSet
	Version int
}

// Coordinator replicates the SecretSet over the peer relation bucket.
type Coordinator struct {
	Store    relation.Store
	IsLeader splcommon.LeaderCheck
}

// peer relation bucket; a unit set has exactly one
var peerKey = relation.Key{Relation: splcommon.PeerRelationName, ID: 0}

// Publish writes the secret set to the peer bucket. Only the leader may call
// this; a follower calling Publish is a programming error and is rejected.
// Identical sets do not bump the bucket version, so duplicate delivery of the
// same change is a no-op for readers.
func (c *Coordinator) Publish(ctx context.Context, set SecretSet) error {
	if !c.IsLeader() {
		return errors.New("follower units never originate secret material")
	}
	return relation.PublishVersioned(ctx, c.Store, peerKey, relation.LocalApp, set.toMap())
}

// Fetch reads the secret set the leader published. ErrNotReady is returned
// until the leader has published a complete, untorn set.
func (c *Coordinator) Fetch(ctx context.Context) (*VersionedSet, error) {
	payload, version, err := relation.ReadVersioned(ctx, c.Store, peerKey, relation.LocalApp)
	if err != nil {
		return nil, err
	}
	set := fromMap(payload)
	return &VersionedSet{SecretSet: *set, Version: version}, nil
}

// EnsurePassword returns the password stored under key in the peer bucket,
// generating one on first use. Leader-only: followers get ErrNotReady until
// the leader has generated the password.
func (c *Coordinator) EnsurePassword(ctx context.Context, key string) (string, error) {
	bucket, err := c.Store.Read(ctx, peerKey, relation.LocalApp)
	if err != nil {
		return "", err
	}
	if existing := bucket.Get(key); existing != "" {
		return existing, nil
	}

	if !c.IsLeader() {
		return "", errors.Wrapf(splcommon.ErrNotReady, "waiting for leader to generate %s", key)
	}

	generated, err := password.Generate(splcommon.PasswordLength, 8, 0, false, true)
	if err != nil {
		return "", errors.Wrapf(err, "unable to generate %s", key)
	}
	if err := c.Store.Write(ctx, peerKey, relation.LocalApp, map[string]string{key: generated}); err != nil {
		return "", err
	}
	log.Info("Generated peer secret", "key", key)
	return generated, nil
}

// EnsureAuthPassword returns the backend auth user's password.
func (c *Coordinator) EnsureAuthPassword(ctx context.Context) (string, error) {
	return c.EnsurePassword(ctx, authPasswordKey)
}

// EnsureMonitoringPassword returns the stats user's password.
func (c *Coordinator) EnsureMonitoringPassword(ctx context.Context) (string, error) {
	return c.EnsurePassword(ctx, monitoringPasswordKey)
}

func (s SecretSet) toMap() map[string]string {
	m := map[string]string{
		authFileKey:           s.AuthFile,
		authPasswordKey:       s.AuthPassword,
		monitoringPasswordKey: s.MonitoringPassword,
	}
	if s.TLSKey != "" {
		m[tlsKeyKey] = s.TLSKey
		m[tlsCertKey] = s.TLSCert
		m[tlsCAKey] = s.TLSCA
	}
	return m
}

func fromMap(m map[string]string) *SecretSet {
	return &SecretSet{
		AuthFile:           m[authFileKey],
		AuthPassword:       m[authPasswordKey],
		MonitoringPassword: m[monitoringPasswordKey],
		TLSKey:             m[tlsKeyKey],
		TLSCert:            m[tlsCertKey],
		TLSCA:              m[tlsCAKey],
	}
}
