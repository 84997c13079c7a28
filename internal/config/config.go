// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

var (
	mu   sync.RWMutex
	keys *schema.ProgramConfig
)

var defaults = schema.ProgramConfig{
	Default: schema.DefaultSection{
		Severity:  "info",
		LogStdout: true,
	},
	DB: schema.DBSection{
		Driver: "sqlite3",
		Schema: "./var/meterfleet.db",
	},
	Scheduler: schema.SchedulerSection{
		WorkerPoolSize:  8,
		SessionTimeout:  30,
		ConnectTimeout:  5,
		ReadTimeout:     4,
		RosterCachePath: "./var/roster-cache",
	},
	Healthz: schema.HealthzSection{
		Addr: ":8090",
	},
}

var errMissingDBSchema = errors.New("config: 'db.schema' must be set")

// Get returns the currently active configuration. Safe for concurrent use.
// The pointer is replaced wholesale on Reload, so callers should not cache
// it across a reload boundary if they need to observe the new values.
func Get() *schema.ProgramConfig {
	mu.RLock()
	defer mu.RUnlock()
	if keys == nil {
		k := defaults
		return &k
	}
	return keys
}

// Init loads the configuration file at path and installs it as active.
// Fatal on any error: config faults at startup are unrecoverable.
func Init(path string) {
	if err := load(path); err != nil {
		log.Fatalf("config: %v", err)
	}
}

// ReloadInterval is the minimum spacing the supervisor must honor between
// two calls to Reload: configuration is re-read at most once per minute.
const ReloadInterval = time.Minute

// Reload re-reads the configuration file at path and atomically replaces
// the active configuration. On error the previous configuration is kept
// and the error only logged: a reload failure must never bring down an
// already-running fleet controller.
func Reload(path string) {
	if err := load(path); err != nil {
		log.Warnf("config: reload failed, keeping previous configuration: %v", err)
	}
}

func load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := defaults
	if bytes.Contains(raw, []byte(`"validate": true`)) || bytes.Contains(raw, []byte(`"validate":true`)) {
		if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return err
	}

	if cfg.DB.Schema == "" {
		return errMissingDBSchema
	}

	if strings.HasPrefix(cfg.DB.Password, "env:") {
		cfg.DB.Password = os.Getenv(strings.TrimPrefix(cfg.DB.Password, "env:"))
	}

	log.SetLogLevel(cfg.Default.Severity)

	mu.Lock()
	keys = &cfg
	mu.Unlock()
	return nil
}
