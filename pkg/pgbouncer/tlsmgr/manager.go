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

// Package tlsmgr drives the pooler's TLS material through the certificates
// relation. It requests a certificate when none exists or when the CSR
// parameters changed, picks up issued certificates from the remote bucket, and
// falls back to non-TLS when the relation goes away. Renewal is driven by the
// remote side publishing a new certificate; there are no local timers. Only
// the leader runs this manager; issued material reaches the other units
// through the peer secret set.
package tlsmgr

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

// kubernetes logger used by the tlsmgr package
var log = logf.Log.WithName("pgbouncer.tlsmgr")

// Local unit bucket keys tracking the in-flight request.
const (
	privateKeyKey = "private-key"
	csrKey        = "csr"
	csrSANsKey    = "csr-sans"
	requestIDKey  = "request-id"
)

const rsaKeyBits = 2048

// State is the TLS posture derived from the certificates relation on this
// reconcile. Pending means a request is outstanding and the pooler should wait
// before serving TLS.
type State struct {
	Enabled bool
	Pending bool
	Key     string
	Cert    string
	CA      string
}

// certificateRequest is one entry of the certificate-signing-requests list.
type certificateRequest struct {
	CertificateSigningRequest string `json:"certificate_signing_request"`
	RequestID                 string `json:"request_id,omitempty"`
}

// issuedCertificate is one entry of the certificates list published by the
// provider.
type issuedCertificate struct {
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain,omitempty"`
}

// Manager reconciles this unit's certificate request.
type Manager struct {
	Store relation.Store
}

// Relation returns the certificates relation instance, or nil when not joined.
func (m *Manager) Relation(ctx context.Context) (*relation.Key, error) {
	keys, err := m.Store.List(ctx, splcommon.CertificatesRelationName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

// Reconcile ensures a certificate request exists for the given SANs and
// returns the current TLS state. Without a certificates relation the state is
// disabled and the pooler runs without TLS.
func (m *Manager) Reconcile(ctx context.Context, sans []string) (*State, error) {
	key, err := m.Relation(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return &State{}, nil
	}

	local, err := m.Store.Read(ctx, *key, relation.LocalUnit)
	if err != nil {
		return nil, err
	}

	wantSANs := canonicalSANs(sans)
	csr := local.Get(csrKey)
	keyPEM := local.Get(privateKeyKey)

	if csr == "" || keyPEM == "" || local.Get(csrSANsKey) != wantSANs {
		keyPEM, csr, err = m.request(ctx, *key, sans, wantSANs)
		if err != nil {
			return nil, err
		}
		return &State{Enabled: true, Pending: true, Key: keyPEM}, nil
	}

	issued, err := m.findIssued(ctx, *key, csr)
	if err != nil {
		return nil, err
	}
	if issued == nil {
		return &State{Enabled: true, Pending: true, Key: keyPEM}, nil
	}

	return &State{
		Enabled: true,
		Key:     keyPEM,
		Cert:    certWithChain(issued),
		CA:      issued.CA,
	}, nil
}

// request generates a fresh key and CSR and publishes the request to the
// certificates relation.
func (m *Manager) request(ctx context.Context, key relation.Key, sans []string, wantSANs string) (string, string, error) {
	scopedLog := log.WithName("request").WithValues("sans", wantSANs)

	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", errors.Wrap(err, "unable to generate TLS private key")
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	}))

	commonName := "pgbouncer"
	if len(sans) > 0 {
		commonName = sans[0]
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: commonName},
		DNSNames: sans,
	}, rsaKey)
	if err != nil {
		return "", "", errors.Wrap(err, "unable to create certificate request")
	}
	csr := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))

	requests, err := json.Marshal([]certificateRequest{{
		CertificateSigningRequest: csr,
		RequestID:                 uuid.NewString(),
	}})
	if err != nil {
		return "", "", errors.Wrap(err, "unable to marshal certificate request")
	}

	err = m.Store.Write(ctx, key, relation.LocalUnit, map[string]string{
		privateKeyKey:                    keyPEM,
		csrKey:                           csr,
		csrSANsKey:                       wantSANs,
		requestIDKey:                     uuid.NewString(),
		splcommon.CertificateRequestsKey: string(requests),
	})
	if err != nil {
		return "", "", err
	}

	scopedLog.Info("Published certificate signing request")
	return keyPEM, csr, nil
}

// findIssued looks for a certificate matching our CSR in the provider's bucket.
func (m *Manager) findIssued(ctx context.Context, key relation.Key, csr string) (*issuedCertificate, error) {
	remote, err := m.Store.Read(ctx, key, relation.RemoteApp)
	if err != nil {
		return nil, err
	}

	raw := remote.Get(splcommon.CertificatesKey)
	if raw == "" {
		return nil, nil
	}

	var issued []issuedCertificate
	if err := json.Unmarshal([]byte(raw), &issued); err != nil {
		return nil, errors.Wrapf(splcommon.ErrInvalid, "bad certificates payload: %v", err)
	}

	for i := range issued {
		if strings.TrimSpace(issued[i].CertificateSigningRequest) == strings.TrimSpace(csr) {
			return &issued[i], nil
		}
	}
	return nil, nil
}

func certWithChain(issued *issuedCertificate) string {
	parts := []string{strings.TrimSpace(issued.Certificate)}
	for _, link := range issued.Chain {
		link = strings.TrimSpace(link)
		if link != "" && link != parts[0] {
			parts = append(parts, link)
		}
	}
	return strings.Join(parts, "\n") + "\n"
}

func canonicalSANs(sans []string) string {
	sorted := make([]string, len(sans))
	copy(sorted, sans)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
