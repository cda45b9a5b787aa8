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

package engine

import (
	"net"

	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/backend"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/clients"
	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/peers"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/render"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/tlsmgr"
)

// planned is the outcome of the pure planning step: the full set of files the
// pooler should be running with. It is rebuilt wholesale every reconcile and
// swapped atomically by the apply step, never partially mutated.
type planned struct {
	files      map[string][]byte
	poolNames  []string
	tlsEnabled bool
}

// plan derives the desired pooler files from a consistent snapshot of the
// relation data. It performs no I/O, which keeps the planning logic testable
// without the surrounding runtime.
func plan(settings Settings, conn *backend.ConnectionInfo, assignments []clients.Assignment,
	creds map[relation.Key]credentials, set *peers.SecretSet, tlsState *tlsmgr.State) (*planned, error) {

	authUser := conn.AuthUser()
	adminUsers := []string{authUser}
	statsUsers := []string{splcommon.GetStatsUserName(settings.AppName)}

	var databases []render.DatabaseEntry
	var poolNames []string
	for _, a := range assignments {
		entry := poolEntry(a, conn.Host, conn.Port)
		databases = append(databases, entry)
		poolNames = append(poolNames, entry.Name)

		if a.Admin {
			if c, ok := creds[a.Key]; ok && c.user != "" {
				adminUsers = append(adminUsers, c.user)
			}
		}

		if len(conn.ReadOnlyEndpoints) > 0 {
			roHost, roPort, err := net.SplitHostPort(conn.ReadOnlyEndpoints[0])
			if err == nil {
				ro := a
				ro.Mode = clients.ReadOnly
				roEntry := poolEntry(ro, roHost, roPort)
				databases = append(databases, roEntry)
				poolNames = append(poolNames, roEntry.Name)
			}
		}
	}

	cfg := render.Config{
		ListenPort:       settings.ListenPort,
		PoolMode:         settings.PoolMode,
		MaxClientConn:    settings.MaxClientConn,
		MaxDBConnections: settings.MaxDBConnections,
		Instances:        settings.Instances,
		AuthFilePath:     splcommon.AuthFilePath,
		AuthUser:         authUser,
		AdminUsers:       adminUsers,
		StatsUsers:       statsUsers,
		Databases:        databases,
	}

	tlsEnabled := tlsState != nil && tlsState.Enabled && !tlsState.Pending && set.TLSKey != ""
	if tlsEnabled {
		cfg.TLS = &render.TLSFiles{
			KeyPath:  splcommon.PgbDir + "/" + splcommon.TLSKeyFile,
			CertPath: splcommon.PgbDir + "/" + splcommon.TLSCertFile,
			CAPath:   splcommon.PgbDir + "/" + splcommon.TLSCAFile,
		}
	}

	ini, err := render.Render(cfg)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		splcommon.IniPath:      ini,
		splcommon.AuthFilePath: []byte(set.AuthFile),
	}
	if tlsEnabled {
		files[cfg.TLS.KeyPath] = []byte(set.TLSKey)
		files[cfg.TLS.CertPath] = []byte(set.TLSCert)
		files[cfg.TLS.CAPath] = []byte(set.TLSCA)
	}

	// pgbouncer is single threaded; extra instances share the listen port via
	// so_reuseport and keep private sockets, logs and pidfiles. Instance 0
	// runs with the service defaults.
	for i := 1; i < settings.Instances; i++ {
		inst := cfg
		inst.UnixSocketDir = splcommon.GetInstanceDir(i)
		inst.LogFile = splcommon.GetInstanceLogFilePath(i)
		inst.PidFile = splcommon.GetInstancePidFilePath(i)
		instIni, err := render.Render(inst)
		if err != nil {
			return nil, err
		}
		files[splcommon.GetInstanceIniPath(i)] = instIni
	}

	return &planned{
		files:      files,
		poolNames:  poolNames,
		tlsEnabled: tlsEnabled,
	}, nil
}

// poolEntry maps one pool assignment onto a [databases] section entry. Replica
// pools share the primary's backend database under a "_readonly" pool name.
// Admin pools are pinned to session mode; superuser consoles hold session
// state that transaction pooling would break.
func poolEntry(a clients.Assignment, host, port string) render.DatabaseEntry {
	entry := render.DatabaseEntry{
		Name:   a.Database,
		Host:   host,
		Port:   port,
		DBName: a.Database,
	}
	if a.Mode == clients.ReadOnly {
		entry.Name = a.Database + "_readonly"
	}
	if a.Admin && a.Mode == clients.ReadWrite {
		entry.PoolMode = "session"
	}
	return entry
}
