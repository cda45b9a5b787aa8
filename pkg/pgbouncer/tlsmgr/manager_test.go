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

package tlsmgr

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

var certKey = relation.Key{Relation: "certificates", ID: 6}

func joinRelation(store *relation.MemStore) {
	store.SeedRemote(certKey, relation.RemoteApp, map[string]string{})
}

func TestReconcileWithoutRelation(t *testing.T) {
	ctx := context.TODO()
	m := &Manager{Store: relation.NewMemStore()}

	state, err := m.Reconcile(ctx, []string{"pooler.test.svc"})
	if err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	if state.Enabled || state.Pending {
		t.Errorf("no relation should disable TLS, got %+v", state)
	}
}

func TestReconcileRequestsCertificate(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	joinRelation(store)
	m := &Manager{Store: store}

	state, err := m.Reconcile(ctx, []string{"pooler.test.svc", "pooler"})
	if err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	if !state.Enabled || !state.Pending {
		t.Errorf("first reconcile should be pending, got %+v", state)
	}
	if state.Key == "" {
		t.Errorf("pending state has no private key")
	}

	local, err := store.Read(ctx, certKey, relation.LocalUnit)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	raw := local.Get("certificate-signing-requests")
	if raw == "" {
		t.Fatalf("no signing request published: %v", local)
	}
	var requests []certificateRequest
	if err := json.Unmarshal([]byte(raw), &requests); err != nil {
		t.Fatalf("bad signing request payload: %v", err)
	}
	if len(requests) != 1 || requests[0].CertificateSigningRequest == "" {
		t.Errorf("unexpected requests payload: %+v", requests)
	}
	if requests[0].RequestID == "" {
		t.Errorf("request has no id")
	}
}

func TestReconcileStablePendingRequest(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	joinRelation(store)
	m := &Manager{Store: store}

	if _, err := m.Reconcile(ctx, []string{"pooler.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	local, _ := store.Read(ctx, certKey, relation.LocalUnit)
	firstCSR := local.Get("csr")

	// same SANs: the outstanding request must not be replaced
	if _, err := m.Reconcile(ctx, []string{"pooler.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	local, _ = store.Read(ctx, certKey, relation.LocalUnit)
	if local.Get("csr") != firstCSR {
		t.Errorf("reconcile with unchanged SANs replaced the CSR")
	}
}

func TestReconcileSANChangeRegenerates(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	joinRelation(store)
	m := &Manager{Store: store}

	if _, err := m.Reconcile(ctx, []string{"old.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	local, _ := store.Read(ctx, certKey, relation.LocalUnit)
	firstCSR := local.Get("csr")

	if _, err := m.Reconcile(ctx, []string{"new.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	local, _ = store.Read(ctx, certKey, relation.LocalUnit)
	if local.Get("csr") == firstCSR {
		t.Errorf("SAN change did not regenerate the CSR")
	}
	if local.Get("csr-sans") != "new.test.svc" {
		t.Errorf("csr-sans = %q", local.Get("csr-sans"))
	}
}

func TestReconcilePicksUpIssuedCertificate(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	joinRelation(store)
	m := &Manager{Store: store}

	if _, err := m.Reconcile(ctx, []string{"pooler.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	local, _ := store.Read(ctx, certKey, relation.LocalUnit)
	csr := local.Get("csr")

	issued, err := json.Marshal([]issuedCertificate{{
		CertificateSigningRequest: csr,
		Certificate:               "-----BEGIN CERTIFICATE-----\nAAA\n-----END CERTIFICATE-----",
		CA:                        "-----BEGIN CERTIFICATE-----\nCCC\n-----END CERTIFICATE-----",
		Chain:                     []string{"-----BEGIN CERTIFICATE-----\nBBB\n-----END CERTIFICATE-----"},
	}})
	if err != nil {
		t.Fatalf("marshal returned %v", err)
	}
	store.SeedRemote(certKey, relation.RemoteApp, map[string]string{"certificates": string(issued)})

	state, err := m.Reconcile(ctx, []string{"pooler.test.svc"})
	if err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	if !state.Enabled || state.Pending {
		t.Errorf("issued certificate not picked up: %+v", state)
	}
	if state.Cert == "" || state.CA == "" || state.Key == "" {
		t.Errorf("incomplete TLS state: %+v", state)
	}
	// chain is appended to the leaf
	if !strings.Contains(state.Cert, "AAA") {
		t.Errorf("certificate missing leaf: %q", state.Cert)
	}
	if !strings.Contains(state.Cert, "BBB") {
		t.Errorf("certificate missing chain link: %q", state.Cert)
	}
}

func TestReconcileIgnoresForeignCertificates(t *testing.T) {
	ctx := context.TODO()
	store := relation.NewMemStore()
	joinRelation(store)
	m := &Manager{Store: store}

	if _, err := m.Reconcile(ctx, []string{"pooler.test.svc"}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}

	issued, _ := json.Marshal([]issuedCertificate{{
		CertificateSigningRequest: "some other unit's csr",
		Certificate:               "CERT",
		CA:                        "CA",
	}})
	store.SeedRemote(certKey, relation.RemoteApp, map[string]string{"certificates": string(issued)})

	state, err := m.Reconcile(ctx, []string{"pooler.test.svc"})
	if err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}
	if !state.Pending {
		t.Errorf("foreign certificate satisfied our request: %+v", state)
	}
}
