// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"
	"database/sql"
	"sync"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
	dbConnErr      error

	sqliteDriverOnce sync.Once
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the roster/watermark/data store for driver ("sqlite3" or
// "mysql") at dsn, applies pending migrations and installs it as the
// package-level singleton. Called once at supervisor startup.
func Connect(driver string, dsn string) error {
	dbConnOnce.Do(func() {
		var dbHandle *sqlx.DB

		switch driver {
		case "sqlite3":
			sqliteDriverOnce.Do(func() {
				sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
			})
			dbHandle, dbConnErr = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
			if dbConnErr != nil {
				return
			}
			// sqlite does not multithread; more than one open connection
			// would just mean waiting for locks.
			dbHandle.SetMaxOpenConns(1)
		case "mysql":
			dbHandle, dbConnErr = sqlx.Open("mysql", fmt.Sprintf("%s?multiStatements=true&parseTime=true", dsn))
			if dbConnErr != nil {
				return
			}
			dbHandle.SetConnMaxLifetime(repoConfig.ConnectionMaxLifetime)
			dbHandle.SetMaxOpenConns(repoConfig.MaxOpenConnections)
			dbHandle.SetMaxIdleConns(repoConfig.MaxIdleConnections)
		default:
			dbConnErr = fmt.Errorf("repository: unsupported database driver %q", driver)
			return
		}

		if dbConnErr = runMigrations(driver, dbHandle.DB); dbConnErr != nil {
			return
		}

		SetConflictSuffix(driver)
		dbConnInstance = &DBConnection{DB: dbHandle}
		log.Infof("repository: connected to %s store", driver)
	})

	return dbConnErr
}

// GetConnection returns the active database connection. Exits the
// process via log.Fatal if Connect has not succeeded yet: a precondition that should
// never be violated by well-formed startup code.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatal("repository: database connection not initialized")
	}
	return dbConnInstance
}
