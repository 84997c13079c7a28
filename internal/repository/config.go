// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import "time"

// RepositoryConfig holds configuration for repository operations.
// All fields have sensible defaults, so this configuration is optional.
type RepositoryConfig struct {
	// MaxOpenConnections is the maximum number of open database connections.
	// Only consulted for the mysql driver; sqlite3 is always capped at 1.
	// Default: 10
	MaxOpenConnections int

	// MaxIdleConnections is the maximum number of idle database connections.
	// Default: 10
	MaxIdleConnections int

	// ConnectionMaxLifetime is the maximum amount of time a mysql
	// connection may be reused.
	// Default: 3 minutes
	ConnectionMaxLifetime time.Duration

	// SnapshotMinInterval is the minimum spacing between two roster
	// snapshot queries: at most once per wall-clock minute.
	SnapshotMinInterval time.Duration
}

// DefaultConfig returns the default repository configuration.
func DefaultConfig() *RepositoryConfig {
	return &RepositoryConfig{
		MaxOpenConnections:    10,
		MaxIdleConnections:    10,
		ConnectionMaxLifetime: 3 * time.Minute,
		SnapshotMinInterval:   time.Minute,
	}
}

// repoConfig is the package-level configuration instance.
// It is initialized with defaults and can be overridden via SetConfig.
var repoConfig = DefaultConfig()

// SetConfig sets the repository configuration.
// This must be called before Connect.
func SetConfig(cfg *RepositoryConfig) {
	if cfg != nil {
		repoConfig = cfg
	}
}

// GetConfig returns the current repository configuration.
func GetConfig() *RepositoryConfig {
	return repoConfig
}
