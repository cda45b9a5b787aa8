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
	"reflect"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
)

func newTestSecretStore() *SecretStore {
	c := fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).Build()
	return NewSecretStore(c, "test")
}

func TestSecretStoreWriteRead(t *testing.T) {
	ctx := context.TODO()
	store := newTestSecretStore()
	key := Key{Relation: "database", ID: 7}

	if err := store.Write(ctx, key, LocalApp, map[string]string{"username": "relation_7"}); err != nil {
		t.Fatalf("Write returned %v", err)
	}

	bucket, err := store.Read(ctx, key, LocalApp)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if bucket.Get("username") != "relation_7" {
		t.Errorf("Read username = %q, want relation_7", bucket.Get("username"))
	}

	// scopes are isolated within the same backing secret
	other, err := store.Read(ctx, key, LocalUnit)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(other) != 0 {
		t.Errorf("local-unit scope leaked local-app keys: %v", other)
	}
}

func TestSecretStoreMissingInstanceReadsEmpty(t *testing.T) {
	ctx := context.TODO()
	store := newTestSecretStore()

	bucket, err := store.Read(ctx, Key{Relation: "database", ID: 1}, RemoteApp)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(bucket) != 0 {
		t.Errorf("missing instance returned non-empty bucket: %v", bucket)
	}
}

func TestSecretStoreRejectsRemoteWrites(t *testing.T) {
	ctx := context.TODO()
	store := newTestSecretStore()
	key := Key{Relation: "database", ID: 1}

	if err := store.Write(ctx, key, RemoteApp, map[string]string{"k": "v"}); err == nil {
		t.Errorf("Write to remote-app scope did not fail")
	}
}

func TestSecretStoreList(t *testing.T) {
	ctx := context.TODO()
	store := newTestSecretStore()

	for _, id := range []int{5, 1, 3} {
		key := Key{Relation: "database", ID: id}
		if err := store.Write(ctx, key, LocalApp, map[string]string{"seen": "yes"}); err != nil {
			t.Fatalf("Write returned %v", err)
		}
	}
	if err := store.Write(ctx, Key{Relation: "db", ID: 2}, LocalApp, map[string]string{"seen": "yes"}); err != nil {
		t.Fatalf("Write returned %v", err)
	}

	keys, err := store.List(ctx, "database")
	if err != nil {
		t.Fatalf("List returned %v", err)
	}
	want := []Key{
		{Relation: "database", ID: 1},
		{Relation: "database", ID: 3},
		{Relation: "database", ID: 5},
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}
}

func TestSecretStoreDeleteKeys(t *testing.T) {
	ctx := context.TODO()
	store := newTestSecretStore()
	key := Key{Relation: "database", ID: 2}

	if err := store.Write(ctx, key, LocalApp, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("Write returned %v", err)
	}
	if err := store.DeleteKeys(ctx, key, LocalApp, []string{"a", "never-there"}); err != nil {
		t.Fatalf("DeleteKeys returned %v", err)
	}

	bucket, err := store.Read(ctx, key, LocalApp)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if bucket.Has("a") {
		t.Errorf("deleted key still present: %v", bucket)
	}
	if bucket.Get("b") != "2" {
		t.Errorf("unrelated key lost: %v", bucket)
	}

	// deleting from a missing instance is not an error
	if err := store.DeleteKeys(ctx, Key{Relation: "database", ID: 99}, LocalApp, []string{"a"}); err != nil {
		t.Errorf("DeleteKeys on missing instance returned %v", err)
	}
}

func TestSecretStoreBucketSecretShape(t *testing.T) {
	ctx := context.TODO()
	c := fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).Build()
	store := NewSecretStore(c, "test")
	key := Key{Relation: "pgb-peers", ID: 0}

	if err := store.Write(ctx, key, LocalApp, map[string]string{"auth-password": "x"}); err != nil {
		t.Fatalf("Write returned %v", err)
	}

	var secret corev1.Secret
	name := types.NamespacedName{Namespace: "test", Name: splcommon.GetRelationSecretName("pgb-peers", 0)}
	if err := c.Get(ctx, name, &secret); err != nil {
		t.Fatalf("backing secret not found: %v", err)
	}
	if secret.Labels[splcommon.LabelRelationName] != "pgb-peers" {
		t.Errorf("relation-name label = %q", secret.Labels[splcommon.LabelRelationName])
	}
	if secret.Labels[splcommon.LabelRelationID] != "0" {
		t.Errorf("relation-id label = %q", secret.Labels[splcommon.LabelRelationID])
	}
	if secret.Labels[splcommon.LabelManagedBy] != splcommon.ManagedByValue {
		t.Errorf("managed-by label = %q", secret.Labels[splcommon.LabelManagedBy])
	}
	if string(secret.Data["local-app.auth-password"]) != "x" {
		t.Errorf("scope-prefixed key missing: %v", secret.Data)
	}
}
