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

package process

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
)

func TestApplyWritesAndSkips(t *testing.T) {
	ctx := context.TODO()
	dir := t.TempDir()
	p := &FSPooler{PidFilePath: filepath.Join(dir, "pgbouncer.pid")}
	files := map[string][]byte{
		filepath.Join(dir, "pgbouncer.ini"): []byte("[databases]\n"),
		filepath.Join(dir, "userlist.txt"):  []byte("\"u\" \"md5x\"\n"),
	}

	changed, err := p.Apply(ctx, files)
	if err != nil {
		t.Fatalf("Apply returned %v", err)
	}
	if !changed {
		t.Errorf("first Apply reported no change")
	}
	for path, want := range files {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if string(got) != string(want) {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}

	// byte-identical apply must not report a change, so no reload happens
	changed, err = p.Apply(ctx, files)
	if err != nil {
		t.Fatalf("second Apply returned %v", err)
	}
	if changed {
		t.Errorf("identical Apply reported a change")
	}

	files[filepath.Join(dir, "pgbouncer.ini")] = []byte("[databases]\nx = host=h port=5 dbname=x\n")
	changed, err = p.Apply(ctx, files)
	if err != nil {
		t.Fatalf("third Apply returned %v", err)
	}
	if !changed {
		t.Errorf("modified Apply reported no change")
	}
}

func TestApplyUnwritableIsFatal(t *testing.T) {
	ctx := context.TODO()
	p := NewFSPooler()
	files := map[string][]byte{"/this/path/does/not/exist/pgbouncer.ini": []byte("x")}

	_, err := p.Apply(ctx, files)
	if !splcommon.IsFatal(err) {
		t.Errorf("Apply to unwritable path: err = %v, want fatal", err)
	}
}

func TestApplyFileMode(t *testing.T) {
	ctx := context.TODO()
	dir := t.TempDir()
	p := &FSPooler{PidFilePath: filepath.Join(dir, "pgbouncer.pid")}
	path := filepath.Join(dir, "userlist.txt")

	if _, err := p.Apply(ctx, map[string][]byte{path: []byte("secret")}); err != nil {
		t.Fatalf("Apply returned %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat returned %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("auth file mode = %o, want 600", info.Mode().Perm())
	}
}

func TestReloadWithoutPidfile(t *testing.T) {
	ctx := context.TODO()
	p := &FSPooler{PidFilePath: filepath.Join(t.TempDir(), "pgbouncer.pid")}

	err := p.Reload(ctx)
	if !splcommon.IsApplyFailure(err) {
		t.Errorf("Reload without pidfile: err = %v, want apply-failure", err)
	}
	if p.Running(ctx) {
		t.Errorf("Running reported true without a pidfile")
	}
}

func TestReloadBadPidfile(t *testing.T) {
	ctx := context.TODO()
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "pgbouncer.pid")
	if err := os.WriteFile(pidfile, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}
	p := &FSPooler{PidFilePath: pidfile}

	if err := p.Reload(ctx); !splcommon.IsApplyFailure(err) {
		t.Errorf("Reload with bad pidfile: err = %v, want apply-failure", err)
	}
}

func TestReloadSignalsAllInstances(t *testing.T) {
	ctx := context.TODO()
	dir := t.TempDir()

	// catch the SIGHUPs sent to our own pid
	hups := make(chan os.Signal, 4)
	signal.Notify(hups, syscall.SIGHUP)
	defer signal.Stop(hups)

	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	pidfile := filepath.Join(dir, "pgbouncer.pid")
	if err := os.WriteFile(pidfile, pid, 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}
	instDir := filepath.Join(dir, "instance_1")
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		t.Fatalf("MkdirAll returned %v", err)
	}
	if err := os.WriteFile(filepath.Join(instDir, "pgbouncer.pid"), pid, 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}

	p := &FSPooler{PidFilePath: pidfile}
	if err := p.Reload(ctx); err != nil {
		t.Fatalf("Reload returned %v", err)
	}
	select {
	case <-hups:
	case <-time.After(2 * time.Second):
		t.Errorf("no SIGHUP delivered")
	}
}

func TestReloadBadInstancePidfile(t *testing.T) {
	ctx := context.TODO()
	dir := t.TempDir()

	pidfile := filepath.Join(dir, "pgbouncer.pid")
	if err := os.WriteFile(pidfile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}
	instDir := filepath.Join(dir, "instance_1")
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		t.Fatalf("MkdirAll returned %v", err)
	}
	if err := os.WriteFile(filepath.Join(instDir, "pgbouncer.pid"), []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}

	// the bad instance pidfile is detected before anything gets signalled
	p := &FSPooler{PidFilePath: pidfile}
	if err := p.Reload(ctx); !splcommon.IsApplyFailure(err) {
		t.Errorf("Reload with bad instance pidfile: err = %v, want apply-failure", err)
	}
}

func TestRunningSelf(t *testing.T) {
	ctx := context.TODO()
	pidfile := filepath.Join(t.TempDir(), "pgbouncer.pid")
	if err := os.WriteFile(pidfile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile returned %v", err)
	}
	p := &FSPooler{PidFilePath: pidfile}
	if !p.Running(ctx) {
		t.Errorf("Running reported false for our own pid")
	}
}
