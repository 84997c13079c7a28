// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestInitAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"db": {"driver": "sqlite3", "schema": "./var/x.db"}}`)
	Init(path)

	got := Get()
	if got.Scheduler.WorkerPoolSize != defaults.Scheduler.WorkerPoolSize {
		t.Errorf("expected default worker pool size %d, got %d", defaults.Scheduler.WorkerPoolSize, got.Scheduler.WorkerPoolSize)
	}
	if got.DB.Schema != "./var/x.db" {
		t.Errorf("expected overridden db.schema, got %q", got.DB.Schema)
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	good := writeConfig(t, `{"db": {"driver": "sqlite3", "schema": "./var/good.db"}}`)
	Init(good)

	Reload(filepath.Join(t.TempDir(), "does-not-exist.json"))

	if got := Get(); got.DB.Schema != "./var/good.db" {
		t.Errorf("reload on missing file must keep previous config, got %q", got.DB.Schema)
	}
}

func TestReloadAppliesEnvPassword(t *testing.T) {
	t.Setenv("METERFLEET_DB_PASSWORD", "s3cret")
	path := writeConfig(t, `{"db": {"driver": "mysql", "schema": "meterfleet", "password": "env:METERFLEET_DB_PASSWORD"}}`)
	Reload(path)

	if got := Get().DB.Password; got != "s3cret" {
		t.Errorf("expected password resolved from env, got %q", got)
	}
}
