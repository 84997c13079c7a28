// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// DefaultSection mirrors the configuration file's `DEFAULT` section:
// process-wide logging and identification settings.
type DefaultSection struct {
	LogFile  string `json:"logfile"`
	Severity string `json:"severity"`
	DataID   string `json:"data_id"`
	LogStdout bool  `json:"log_stdout"`
}

// DBSection mirrors the `DB` section: the roster/watermark relational store.
type DBSection struct {
	Driver string `json:"driver"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	User   string `json:"user"`
	// Password may be given directly or as "env:VARNAME" to avoid storing
	// secrets in the config file.
	Password string `json:"password"`
	Schema   string `json:"schema"`
}

// APISection mirrors the `API` section: the optional weather/enrichment
// provider seam the core threads through but never calls itself.
type APISection struct {
	Provider      string `json:"provider"`
	Credentials   string `json:"credentials"`
	MassQuery     bool   `json:"mass_query"`
	IntervalSecs  int    `json:"interval_seconds"`
}

// SinkSection configures the downstream record sinks. At least one of
// Memory, Nats or Relational should be enabled; RelationalSink always
// reuses the DB section's connection.
type SinkSection struct {
	Memory struct {
		Enabled       bool   `json:"enabled"`
		MaxMemoryByte int    `json:"max-memory-bytes"`
		DefaultTTL    string `json:"default-ttl"`
	} `json:"memory"`
	Nats struct {
		Enabled       bool   `json:"enabled"`
		Address       string `json:"address"`
		Username      string `json:"username"`
		Password      string `json:"password"`
		CredsFilePath string `json:"creds-file-path"`
		SubjectPrefix string `json:"subject-prefix"`
	} `json:"nats"`
	Relational struct {
		Enabled bool `json:"enabled"`
	} `json:"relational"`
}

// SchedulerSection tunes the fleet scheduler's worker pool and pacing.
type SchedulerSection struct {
	WorkerPoolSize   int `json:"worker-pool-size"`
	SessionTimeout   int `json:"session-timeout-seconds"`
	ConnectTimeout   int `json:"connect-timeout-seconds"`
	ReadTimeout      int `json:"read-timeout-seconds"`
	RosterCachePath  string `json:"roster-cache-path"`
	RosterCacheGlobPath string `json:"roster-cache-dir"`
}

// HealthzSection configures the auxiliary liveness/metrics HTTP surface.
type HealthzSection struct {
	Addr string `json:"addr"`
}

// ProgramConfig is the top-level configuration file format.
type ProgramConfig struct {
	Default   DefaultSection   `json:"default"`
	DB        DBSection        `json:"db"`
	API       APISection       `json:"api"`
	Sink      SinkSection      `json:"sink"`
	Scheduler SchedulerSection `json:"scheduler"`
	Healthz   HealthzSection   `json:"healthz"`

	// Validate enables JSON Schema validation of this file on load/reload.
	Validate bool `json:"validate"`
}
