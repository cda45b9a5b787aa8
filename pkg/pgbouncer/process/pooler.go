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

// Package process is the boundary to the running pgbouncer: config and auth
// files on the pod-shared filesystem, plus a reload signal. pgbouncer only
// applies configuration changes on reload, so the reconcile loop compares
// written bytes first and reloads only when something actually changed.
package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
)

// kubernetes logger used by the process package
var log = logf.Log.WithName("pgbouncer.process")

// Pooler abstracts the running pgbouncer process.
type Pooler interface {
	// Apply writes the given files (path -> contents). It returns true when
	// any file's contents changed on disk.
	Apply(ctx context.Context, files map[string][]byte) (bool, error)

	// Reload signals pgbouncer to re-read its configuration.
	Reload(ctx context.Context) error

	// Running reports whether the pgbouncer process is alive.
	Running(ctx context.Context) bool
}

// FSPooler manages pgbouncer through the pod-shared filesystem. The agent
// runs as a sidecar in the pooler pod with a shared pid namespace, so a
// SIGHUP to the pid recorded in the pidfile reaches the pgbouncer process.
type FSPooler struct {
	PidFilePath string
}

// NewFSPooler returns an FSPooler using the canonical pidfile location.
func NewFSPooler() *FSPooler {
	return &FSPooler{PidFilePath: splcommon.PidFilePath}
}

// Apply writes each file atomically via a temp file and rename. An unwritable
// filesystem is a fatal local failure requiring operator intervention.
func (p *FSPooler) Apply(ctx context.Context, files map[string][]byte) (bool, error) {
	changed := false
	for path, contents := range files {
		current, err := os.ReadFile(path)
		if err == nil && bytes.Equal(current, contents) {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return changed, errors.Wrapf(splcommon.ErrFatal, "unable to read %s: %v", path, err)
		}

		if err := writeFileAtomic(path, contents); err != nil {
			return changed, errors.Wrapf(splcommon.ErrFatal, "unable to write %s: %v", path, err)
		}
		log.Info("Wrote pooler file", "path", path, "bytes", len(contents))
		changed = true
	}
	return changed, nil
}

// Reload sends SIGHUP to every pgbouncer instance. The primary pidfile must
// exist; additional instances are discovered from their instance_*/ pidfiles
// next to it and may be absent when only one instance is configured.
func (p *FSPooler) Reload(ctx context.Context) error {
	pid, err := p.readPid()
	if err != nil {
		return errors.Wrapf(splcommon.ErrApplyFailure, "unable to locate pgbouncer process: %v", err)
	}
	pids := []int{pid}

	extras, _ := filepath.Glob(filepath.Join(filepath.Dir(p.PidFilePath), "instance_*", "pgbouncer.pid"))
	for _, path := range extras {
		extra, err := readPidFile(path)
		if err != nil {
			return errors.Wrapf(splcommon.ErrApplyFailure, "unable to locate pgbouncer instance: %v", err)
		}
		pids = append(pids, extra)
	}

	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
			return errors.Wrapf(splcommon.ErrApplyFailure, "unable to signal pgbouncer pid %d: %v", pid, err)
		}
	}
	log.Info("Reloaded pgbouncer", "instances", len(pids))
	return nil
}

// Running reports whether the pid in the pidfile refers to a live process.
func (p *FSPooler) Running(ctx context.Context) bool {
	pid, err := p.readPid()
	if err != nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func (p *FSPooler) readPid() (int, error) {
	return readPidFile(p.PidFilePath)
}

func readPidFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "bad pidfile %s", path)
	}
	return pid, nil
}

func writeFileAtomic(path string, contents []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
