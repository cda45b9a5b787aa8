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

package peers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

func leader() bool   { return true }
func follower() bool { return false }

func TestPublishFetchRoundTrip(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	c := &Coordinator{Store: store, IsLeader: leader}

	set := SecretSet{
		AuthFile:           "\"u\" \"md5x\"\n",
		AuthPassword:       "authpw",
		MonitoringPassword: "monpw",
	}
	require.NoError(t, c.Publish(ctx, set))

	// a follower on the same store sees the leader's set
	f := &Coordinator{Store: store, IsLeader: follower}
	fetched, err := f.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, set, fetched.SecretSet)
	assert.Equal(t, 1, fetched.Version)
}

func TestPublishDuplicateKeepsVersion(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	c := &Coordinator{Store: store, IsLeader: leader}
	set := SecretSet{AuthFile: "f", AuthPassword: "a", MonitoringPassword: "m"}

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish(ctx, set))
	}
	fetched, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.Version, "duplicate publishes must not bump the version")

	set.AuthPassword = "rotated"
	require.NoError(t, c.Publish(ctx, set))
	fetched, err = c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.Version)
	assert.Equal(t, "rotated", fetched.AuthPassword)
}

func TestFollowerCannotPublish(t *testing.T) {
	ctx := context.TODO()
	c := &Coordinator{Store: relation.NewMemStore(), IsLeader: follower}
	assert.Error(t, c.Publish(ctx, SecretSet{AuthFile: "f"}))
}

func TestFetchBeforePublish(t *testing.T) {
	ctx := context.TODO()
	c := &Coordinator{Store: relation.NewMemStore(), IsLeader: follower}
	_, err := c.Fetch(ctx)
	assert.True(t, splcommon.IsNotReady(err), "expected not-ready, got %v", err)
}

func TestEnsurePassword(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	c := &Coordinator{Store: store, IsLeader: leader}

	pass, err := c.EnsureAuthPassword(ctx)
	require.NoError(t, err)
	assert.Len(t, pass, 24)

	again, err := c.EnsureAuthPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, pass, again, "existing password must not be regenerated")

	mon, err := c.EnsureMonitoringPassword(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, pass, mon)

	// follower sees the leader's password once generated
	f := &Coordinator{Store: store, IsLeader: follower}
	got, err := f.EnsureAuthPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, pass, got)
}

func TestEnsurePasswordFollowerWaits(t *testing.T) {
	ctx := context.TODO()
	c := &Coordinator{Store: relation.NewMemStore(), IsLeader: follower}
	_, err := c.EnsureAuthPassword(ctx)
	assert.True(t, splcommon.IsNotReady(err), "expected not-ready, got %v", err)
}

func TestSecretSetTLSRoundTrip(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	c := &Coordinator{Store: store, IsLeader: leader}

	set := SecretSet{
		AuthFile:           "f",
		AuthPassword:       "a",
		MonitoringPassword: "m",
		TLSKey:             "KEY",
		TLSCert:            "CERT",
		TLSCA:              "CA",
	}
	require.NoError(t, c.Publish(ctx, set))
	fetched, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, set, fetched.SecretSet)
}
