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

// Package render turns a pooler configuration snapshot into pgbouncer's
// on-disk config and auth file formats. Rendering is a pure function: the
// same input always yields byte-identical output, which the reconcile loop
// relies on to decide whether a pooler reload is actually needed.
package render

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DatabaseEntry is one logical database exposed by the pooler, mapping a pool
// name requested by clients to a backend endpoint.
type DatabaseEntry struct {
	Name     string
	Host     string
	Port     string
	DBName   string
	PoolMode string // optional per-pool override
}

// UserEntry is one line of the pgbouncer auth file.
type UserEntry struct {
	Name         string
	PasswordHash string
}

// TLSFiles points at TLS material on the pooler's filesystem. A nil TLSFiles
// renders a non-TLS configuration.
type TLSFiles struct {
	KeyPath  string
	CertPath string
	CAPath   string
}

// Config is an immutable snapshot of the pooler's desired configuration. It is
// regenerated wholesale on every reconcile and never partially mutated.
type Config struct {
	ListenPort       int
	PoolMode         string
	MaxClientConn    int
	MaxDBConnections int
	Instances        int // pgbouncer is single threaded; one instance per core

	AuthFilePath string
	AuthUser     string // auth_query owner; empty disables auth_query
	StatsUsers   []string
	AdminUsers   []string

	Databases []DatabaseEntry
	TLS       *TLSFiles

	// per-instance paths, set when rendering an instance-specific variant
	UnixSocketDir string
	LogFile       string
	PidFile       string
}

// PoolSizes holds connection pool sizing derived from max_db_connections.
type PoolSizes struct {
	DefaultPoolSize int
	MinPoolSize     int
	ReservePoolSize int
}

// DerivePoolSizes splits an overall database connection budget across pooler
// instances. A zero budget means unlimited and falls back to static defaults.
func DerivePoolSizes(maxDBConnections, instances int) PoolSizes {
	if maxDBConnections == 0 {
		return PoolSizes{DefaultPoolSize: 20, MinPoolSize: 10, ReservePoolSize: 10}
	}
	if instances < 1 {
		instances = 1
	}
	effective := maxDBConnections / instances
	return PoolSizes{
		DefaultPoolSize: maxOne(effective / 2),
		MinPoolSize:     maxOne(effective / 4),
		ReservePoolSize: maxOne(effective / 4),
	}
}

func maxOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// Render produces pgbouncer.ini text for the given snapshot.
func Render(c Config) ([]byte, error) {
	if c.ListenPort <= 0 {
		return nil, errors.Errorf("invalid listen port %d", c.ListenPort)
	}
	if c.PoolMode == "" {
		return nil, errors.New("pool mode not set")
	}

	var buf bytes.Buffer

	buf.WriteString("[databases]\n")
	databases := make([]DatabaseEntry, len(c.Databases))
	copy(databases, c.Databases)
	sort.Slice(databases, func(i, j int) bool { return databases[i].Name < databases[j].Name })
	for _, db := range databases {
		fmt.Fprintf(&buf, "%s = host=%s port=%s dbname=%s", db.Name, db.Host, db.Port, db.DBName)
		if db.PoolMode != "" {
			fmt.Fprintf(&buf, " pool_mode=%s", db.PoolMode)
		}
		buf.WriteString("\n")
	}
	buf.WriteString("\n")

	sizes := DerivePoolSizes(c.MaxDBConnections, c.Instances)

	settings := orderedmap.New[string, string]()
	settings.Set("listen_addr", "*")
	settings.Set("listen_port", strconv.Itoa(c.ListenPort))
	settings.Set("pool_mode", c.PoolMode)
	settings.Set("max_client_conn", strconv.Itoa(c.MaxClientConn))
	settings.Set("default_pool_size", strconv.Itoa(sizes.DefaultPoolSize))
	settings.Set("min_pool_size", strconv.Itoa(sizes.MinPoolSize))
	settings.Set("reserve_pool_size", strconv.Itoa(sizes.ReservePoolSize))
	if c.MaxDBConnections > 0 {
		settings.Set("max_db_connections", strconv.Itoa(c.MaxDBConnections))
	}
	settings.Set("auth_type", "md5")
	if c.AuthFilePath != "" {
		settings.Set("auth_file", c.AuthFilePath)
	}
	if c.AuthUser != "" {
		settings.Set("auth_user", c.AuthUser)
		settings.Set("auth_query", fmt.Sprintf("SELECT username, password FROM %s.get_auth($1)", c.AuthUser))
	}
	if len(c.AdminUsers) > 0 {
		settings.Set("admin_users", joinSorted(c.AdminUsers))
	}
	if len(c.StatsUsers) > 0 {
		settings.Set("stats_users", joinSorted(c.StatsUsers))
	}
	// allows multiple instances to share the listen port
	settings.Set("so_reuseport", "1")
	settings.Set("ignore_startup_parameters", "extra_float_digits")
	if c.UnixSocketDir != "" {
		settings.Set("unix_socket_dir", c.UnixSocketDir)
	}
	if c.LogFile != "" {
		settings.Set("logfile", c.LogFile)
	}
	if c.PidFile != "" {
		settings.Set("pidfile", c.PidFile)
	}
	if c.TLS != nil {
		settings.Set("client_tls_sslmode", "prefer")
		settings.Set("client_tls_key_file", c.TLS.KeyPath)
		settings.Set("client_tls_cert_file", c.TLS.CertPath)
		settings.Set("client_tls_ca_file", c.TLS.CAPath)
	}

	buf.WriteString("[pgbouncer]\n")
	for pair := settings.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(&buf, "%s = %s\n", pair.Key, pair.Value)
	}

	return buf.Bytes(), nil
}

// RenderAuthFile produces userlist.txt content. Entries are sorted by user
// name so the output is stable across reconciles.
func RenderAuthFile(users []UserEntry) []byte {
	sorted := make([]UserEntry, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, u := range sorted {
		fmt.Fprintf(&buf, "%q %q\n", u.Name, u.PasswordHash)
	}
	return buf.Bytes()
}

func joinSorted(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	out := ""
	for i, v := range sorted {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
