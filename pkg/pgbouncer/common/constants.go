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

package common

const (
	// BackendRelationName is the required relation to the backing PostgreSQL provider
	BackendRelationName = "backend-database"

	// ClientRelationName is the modern client-facing relation
	ClientRelationName = "database"

	// DbRelationName is the legacy read-write client relation
	DbRelationName = "db"

	// DbAdminRelationName is the legacy admin client relation
	DbAdminRelationName = "db-admin"

	// PeerRelationName carries shared secrets and coordination keys between units
	PeerRelationName = "pgb-peers"

	// CertificatesRelationName is the optional TLS certificates relation
	CertificatesRelationName = "certificates"

	// PgbDir is the base directory for pgbouncer runtime files inside the pod
	PgbDir = "/var/lib/pgbouncer"

	// IniPath is the canonical pgbouncer config file location
	IniPath = PgbDir + "/pgbouncer.ini"

	// AuthFilePath is the canonical pgbouncer userlist location
	AuthFilePath = PgbDir + "/userlist.txt"

	// PidFilePath is where the pgbouncer process records its pid
	PidFilePath = PgbDir + "/pgbouncer.pid"

	// TLSKeyFile, TLSCertFile and TLSCAFile are the TLS material filenames under PgbDir
	TLSKeyFile  = "key.pem"
	TLSCertFile = "cert.pem"
	TLSCAFile   = "ca.pem"

	// AuthFileKey is the peer bucket key holding the replicated auth file
	AuthFileKey = "auth-file"

	// AuthPasswordKey is the peer bucket key holding the auth user's plaintext password
	AuthPasswordKey = "auth-password"

	// MonitoringPasswordKey is the peer bucket key holding the stats user's password
	MonitoringPasswordKey = "monitoring-password"

	// DefaultListenPort is the port pgbouncer listens on when the spec does not set one
	DefaultListenPort = 6432

	// DefaultPoolMode is used when the spec does not set a pool mode
	DefaultPoolMode = "session"

	// PasswordLength is the number of characters in generated passwords
	PasswordLength = 24
)

// Backend relation bucket keys, as published by the PostgreSQL provider side.
const (
	BackendEndpointsKey         = "endpoints"
	BackendReadOnlyEndpointsKey = "read-only-endpoints"
	BackendUsernameKey          = "username"
	BackendPasswordKey          = "password"
	BackendDatabaseKey          = "database"
	BackendVersionKey           = "version"
)

// Client relation bucket keys, published by this operator for its clients.
const (
	ClientDatabaseKey          = "database"
	ClientEndpointsKey         = "endpoints"
	ClientReadOnlyEndpointsKey = "read-only-endpoints"
	ClientUsernameKey          = "username"
	ClientPasswordKey          = "password"
	ClientVersionKey           = "version"
	ClientExtraUserRolesKey    = "extra-user-roles"
)

// Certificates relation bucket keys, following the tls_certificates interface.
const (
	CertificateRequestsKey = "certificate-signing-requests"
	CertificatesKey        = "certificates"
)
