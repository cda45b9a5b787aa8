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
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
)

// kubernetes logger used by the relation package
var log = logf.Log.WithName("pgbouncer.relation")

// SecretStore backs relation buckets with one Kubernetes Secret per relation
// instance. Each scope's keys are stored under a "<scope>." prefix in the
// Secret data. Remote scopes are maintained by the operator on the other side
// of the relation; this store refuses to write them. Unit scopes carry no
// unit name in the prefix, so they admit a single writer per relation
// instance (the leader).
type SecretStore struct {
	Client    splcommon.ControllerClient
	Namespace string
}

// NewSecretStore returns a SecretStore bound to a namespace.
func NewSecretStore(c splcommon.ControllerClient, namespace string) *SecretStore {
	return &SecretStore{Client: c, Namespace: namespace}
}

// List returns the keys of every instance of the named relation, ordered by id.
func (s *SecretStore) List(ctx context.Context, relation string) ([]Key, error) {
	var secrets corev1.SecretList
	opts := []client.ListOption{
		client.InNamespace(s.Namespace),
		client.MatchingLabels(splcommon.GetRelationLabels(relation)),
	}
	if err := s.Client.List(ctx, &secrets, opts...); err != nil {
		return nil, errors.Wrapf(err, "unable to list %s relation secrets", relation)
	}

	keys := make([]Key, 0, len(secrets.Items))
	for i := range secrets.Items {
		idValue := secrets.Items[i].Labels[splcommon.LabelRelationID]
		id, err := strconv.Atoi(idValue)
		if err != nil {
			log.Info("Skipping relation secret with malformed id label",
				"secret", secrets.Items[i].GetName(), "id", idValue)
			continue
		}
		keys = append(keys, Key{Relation: relation, ID: id})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// Read returns a snapshot of one scope's bucket. A missing relation instance
// yields an empty bucket.
func (s *SecretStore) Read(ctx context.Context, key Key, scope Scope) (Bucket, error) {
	secret, err := s.getSecret(ctx, key)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return Bucket{}, nil
		}
		return nil, errors.Wrapf(err, "unable to read relation bucket %s", key)
	}

	prefix := string(scope) + "."
	bucket := Bucket{}
	for k, v := range secret.Data {
		if strings.HasPrefix(k, prefix) {
			bucket[strings.TrimPrefix(k, prefix)] = string(v)
		}
	}
	return bucket, nil
}

// Write merges kv into a local scope's bucket, creating the backing Secret on
// first use. Writes that change nothing are skipped so duplicate delivery of
// the same update stays idempotent.
func (s *SecretStore) Write(ctx context.Context, key Key, scope Scope, kv map[string]string) error {
	scopedLog := log.WithName("Write").WithValues("relation", key.Relation, "id", key.ID, "scope", scope)

	if !scope.IsLocal() {
		return errors.Errorf("scope %s of relation %s is owned by the remote side", scope, key)
	}

	secret, err := s.getSecret(ctx, key)
	if err != nil {
		if !k8serrors.IsNotFound(err) {
			return errors.Wrapf(err, "unable to read relation bucket %s", key)
		}
		secret = s.newSecret(key)
		for k, v := range kv {
			secret.Data[string(scope)+"."+k] = []byte(v)
		}
		scopedLog.Info("Creating relation bucket secret")
		if err := s.Client.Create(ctx, secret); err != nil {
			return errors.Wrapf(err, "unable to create relation bucket %s", key)
		}
		return nil
	}

	revised := map[string][]byte{}
	for k, v := range secret.Data {
		revised[k] = v
	}
	for k, v := range kv {
		revised[string(scope)+"."+k] = []byte(v)
	}
	if reflect.DeepEqual(secret.Data, revised) {
		return nil
	}

	secret.Data = revised
	scopedLog.Info("Updating relation bucket secret")
	if err := s.Client.Update(ctx, secret); err != nil {
		return errors.Wrapf(err, "unable to update relation bucket %s", key)
	}
	return nil
}

// DeleteKeys removes keys from a local scope's bucket. Missing keys or a
// missing bucket are not errors.
func (s *SecretStore) DeleteKeys(ctx context.Context, key Key, scope Scope, keys []string) error {
	if !scope.IsLocal() {
		return errors.Errorf("scope %s of relation %s is owned by the remote side", scope, key)
	}

	secret, err := s.getSecret(ctx, key)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "unable to read relation bucket %s", key)
	}

	changed := false
	for _, k := range keys {
		prefixed := string(scope) + "." + k
		if _, ok := secret.Data[prefixed]; ok {
			delete(secret.Data, prefixed)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.Client.Update(ctx, secret); err != nil {
		return errors.Wrapf(err, "unable to update relation bucket %s", key)
	}
	return nil
}

func (s *SecretStore) getSecret(ctx context.Context, key Key) (*corev1.Secret, error) {
	var secret corev1.Secret
	namespacedName := types.NamespacedName{
		Namespace: s.Namespace,
		Name:      splcommon.GetRelationSecretName(key.Relation, key.ID),
	}
	if err := s.Client.Get(ctx, namespacedName, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *SecretStore) newSecret(key Key) *corev1.Secret {
	labels := splcommon.GetRelationLabels(key.Relation)
	labels[splcommon.LabelRelationID] = strconv.Itoa(key.ID)
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      splcommon.GetRelationSecretName(key.Relation, key.ID),
			Namespace: s.Namespace,
			Labels:    labels,
		},
		Data: map[string][]byte{},
	}
}
