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

// Package engine is the top-level reconcile loop for the pooler. Every
// relevant event funnels into Reconcile, which recomputes the desired pooler
// configuration wholesale from current relation data and applies it
// idempotently. There is no persisted transition table: the resulting state is
// a function of the observed buckets, so replaying events in any order that
// ends in the same bucket contents converges to the same configuration.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/backend"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/clients"
	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/metrics"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/peers"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/process"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/render"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/tlsmgr"
)

// kubernetes logger used by the engine package
var log = logf.Log.WithName("pgbouncer.engine")

// State is the unit status derived from the last reconcile.
type State string

const (
	// StateBlocked means the mandatory backend-database relation is missing,
	// or a fatal local failure needs operator intervention
	StateBlocked State = "Blocked"

	// StateWaiting means a dependency relation has not published required
	// data yet
	StateWaiting State = "Waiting"

	// StateActive means the config is rendered and the pooler is serving
	StateActive State = "Active"

	// StateErrored means the last apply failed; it is retried on the next event
	StateErrored State = "Errored"
)

// Event describes what triggered a reconcile. It is informational only:
// desired state is always recomputed from current bucket contents, never from
// the event payload.
type Event struct {
	Trigger string
}

// Settings carries the operator-level configuration for this pooler unit.
type Settings struct {
	AppName          string
	Hostname         string // endpoint published to clients
	ListenPort       int
	PoolMode         string
	MaxClientConn    int
	MaxDBConnections int
	Instances        int
	UnitSANs         []string
}

// Result summarizes a reconcile for status reporting.
type Result struct {
	State      State
	Message    string
	Pools      []string
	TLSEnabled bool
}

// Engine wires the pooler subsystems together.
type Engine struct {
	Store    relation.Store
	Backend  *backend.Watcher
	Clients  *clients.Manager
	Peers    *peers.Coordinator
	TLS      *tlsmgr.Manager
	Pooler   process.Pooler
	IsLeader splcommon.LeaderCheck
}

// New composes an Engine over a relation store and a pooler process boundary.
func New(store relation.Store, pooler process.Pooler, isLeader splcommon.LeaderCheck) *Engine {
	return &Engine{
		Store:    store,
		Backend:  &backend.Watcher{Store: store},
		Clients:  &clients.Manager{Store: store},
		Peers:    &peers.Coordinator{Store: store, IsLeader: isLeader},
		TLS:      &tlsmgr.Manager{Store: store},
		Pooler:   pooler,
		IsLeader: isLeader,
	}
}

// Reconcile recomputes and applies the desired pooler configuration. It is
// idempotent: invoking it twice over the same underlying state applies the
// same configuration and causes no duplicate side effects. All relation-
// derived failures are converted to a status here rather than propagated as
// crashes, since remote databag contents are untrusted input.
func (e *Engine) Reconcile(ctx context.Context, settings Settings, event Event) Result {
	scopedLog := log.WithName("Reconcile").WithValues("trigger", event.Trigger, "leader", e.IsLeader())

	result, err := e.reconcile(ctx, settings)
	switch {
	case err == nil:
		result.State = StateActive
	case splcommon.IsFatal(err):
		scopedLog.Error(err, "Fatal local failure")
		result = Result{State: StateBlocked, Message: err.Error()}
	case splcommon.IsNotReady(err):
		scopedLog.Info("Dependencies not ready", "reason", err.Error())
		result = Result{State: StateWaiting, Message: waitingMessage(err)}
	case splcommon.IsApplyFailure(err):
		scopedLog.Error(err, "Unable to apply pooler configuration")
		metrics.ReconcileErrors.Inc()
		result = Result{State: StateErrored, Message: err.Error()}
	case errors.Is(err, errBackendMissing):
		result = Result{State: StateBlocked, Message: err.Error()}
	default:
		scopedLog.Error(err, "Reconcile failed")
		metrics.ReconcileErrors.Inc()
		result = Result{State: StateErrored, Message: err.Error()}
	}

	metrics.ReconcileTotal.WithLabelValues(string(result.State)).Inc()
	metrics.ActivePools.Set(float64(len(result.Pools)))

	scopedLog.Info("Reconcile complete", "state", result.State, "pools", len(result.Pools))
	return result
}

// errBackendMissing drives the Blocked state: without a backend database the
// pooler serves no purpose.
var errBackendMissing = errors.New("waiting for backend database relation to initialise")

func (e *Engine) reconcile(ctx context.Context, settings Settings) (Result, error) {
	settings = withDefaults(settings)

	backendKey, err := e.Backend.Relation(ctx)
	if err != nil {
		return Result{}, err
	}
	if backendKey == nil {
		return Result{}, errBackendMissing
	}

	conn, err := e.Backend.ConnectionInfo(ctx)
	if err != nil {
		return Result{}, err
	}

	set, tlsState, err := e.syncSecrets(ctx, settings, conn)
	if err != nil {
		return Result{}, err
	}

	assignments, err := e.Clients.ActiveAssignments(ctx)
	if err != nil {
		return Result{}, err
	}

	creds, err := e.resolveCredentials(ctx, assignments)
	if err != nil {
		return Result{}, err
	}

	renderStart := time.Now()
	p, err := plan(settings, conn, assignments, creds, set, tlsState)
	metrics.RenderDuration.Observe(time.Since(renderStart).Seconds())
	if err != nil {
		return Result{}, err
	}

	if err := e.apply(ctx, p); err != nil {
		return Result{}, err
	}

	if e.IsLeader() {
		if err := e.publishClients(ctx, settings, conn, assignments, creds); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Pools:      p.poolNames,
		TLSEnabled: p.tlsEnabled,
	}, nil
}

// syncSecrets runs the leader/follower secret protocol. The leader originates
// the secret set and publishes it over the peer bucket; followers only apply
// what the leader published.
func (e *Engine) syncSecrets(ctx context.Context, settings Settings, conn *backend.ConnectionInfo) (*peers.SecretSet, *tlsmgr.State, error) {
	if !e.IsLeader() {
		fetched, err := e.Peers.Fetch(ctx)
		if err != nil {
			return nil, nil, err
		}
		return &fetched.SecretSet, stateFromSet(&fetched.SecretSet), nil
	}

	tlsState, err := e.TLS.Reconcile(ctx, settings.UnitSANs)
	if err != nil {
		return nil, nil, err
	}
	if tlsState.Enabled && tlsState.Pending {
		return nil, nil, errors.Wrap(splcommon.ErrNotReady, "waiting for certificates")
	}

	authPass, err := e.Peers.EnsureAuthPassword(ctx)
	if err != nil {
		return nil, nil, err
	}
	monPass, err := e.Peers.EnsureMonitoringPassword(ctx)
	if err != nil {
		return nil, nil, err
	}

	authUser := conn.AuthUser()
	statsUser := splcommon.GetStatsUserName(settings.AppName)
	authFile := render.RenderAuthFile([]render.UserEntry{
		{Name: authUser, PasswordHash: render.MD5Password(authUser, authPass)},
		{Name: statsUser, PasswordHash: render.MD5Password(statsUser, monPass)},
	})

	set := peers.SecretSet{
		AuthFile:           string(authFile),
		AuthPassword:       authPass,
		MonitoringPassword: monPass,
	}
	if tlsState.Enabled {
		set.TLSKey = tlsState.Key
		set.TLSCert = tlsState.Cert
		set.TLSCA = tlsState.CA
	}

	if err := e.Peers.Publish(ctx, set); err != nil {
		return nil, nil, err
	}
	return &set, tlsState, nil
}

func (e *Engine) resolveCredentials(ctx context.Context, assignments []clients.Assignment) (map[relation.Key]credentials, error) {
	creds := map[relation.Key]credentials{}
	for _, a := range assignments {
		if e.IsLeader() {
			user, pass, err := e.Clients.EnsureCredentials(ctx, a.Key)
			if err != nil {
				return nil, err
			}
			creds[a.Key] = credentials{user: user, pass: pass}
			continue
		}

		local, err := e.Store.Read(ctx, a.Key, relation.LocalApp)
		if err != nil {
			return nil, err
		}
		user := local.Get(splcommon.ClientUsernameKey)
		if user == "" {
			return nil, errors.Wrapf(splcommon.ErrNotReady, "waiting for leader to allocate credentials for %s", a.Key)
		}
		creds[a.Key] = credentials{user: user, pass: local.Get(splcommon.ClientPasswordKey)}
	}
	return creds, nil
}

func (e *Engine) apply(ctx context.Context, p *planned) error {
	changed, err := e.Pooler.Apply(ctx, p.files)
	if err != nil {
		if splcommon.IsFatal(err) {
			return err
		}
		return errors.Wrapf(splcommon.ErrApplyFailure, "config write failed: %v", err)
	}
	if !changed {
		return nil
	}
	if err := e.Pooler.Reload(ctx); err != nil {
		if splcommon.IsApplyFailure(err) {
			return err
		}
		return errors.Wrapf(splcommon.ErrApplyFailure, "pooler reload failed: %v", err)
	}
	return nil
}

func (e *Engine) publishClients(ctx context.Context, settings Settings, conn *backend.ConnectionInfo, assignments []clients.Assignment, creds map[relation.Key]credentials) error {
	info := clients.ConnectionInfo{
		Host:    settings.Hostname,
		Port:    fmt.Sprintf("%d", settings.ListenPort),
		Version: conn.Version,
	}
	// replica pools are served from this same pooler endpoint under the
	// "_readonly" database names
	if len(conn.ReadOnlyEndpoints) > 0 {
		info.ReadOnlyEndpoints = []string{fmt.Sprintf("%s:%d", settings.Hostname, settings.ListenPort)}
	}
	for _, a := range assignments {
		c := creds[a.Key]
		if err := e.Clients.PublishConnectionInfo(ctx, a, info, c.user, c.pass); err != nil {
			return err
		}
	}
	return nil
}

type credentials struct {
	user string
	pass string
}

func stateFromSet(set *peers.SecretSet) *tlsmgr.State {
	if set.TLSKey == "" {
		return &tlsmgr.State{}
	}
	return &tlsmgr.State{Enabled: true, Key: set.TLSKey, Cert: set.TLSCert, CA: set.TLSCA}
}

func withDefaults(s Settings) Settings {
	if s.ListenPort == 0 {
		s.ListenPort = splcommon.DefaultListenPort
	}
	if s.PoolMode == "" {
		s.PoolMode = splcommon.DefaultPoolMode
	}
	if s.MaxClientConn == 0 {
		s.MaxClientConn = 10000
	}
	if s.Instances == 0 {
		s.Instances = 1
	}
	return s
}

func waitingMessage(err error) string {
	return fmt.Sprintf("waiting: %s", err.Error())
}
