// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*
var migrationFiles embed.FS

// runMigrations applies every pending migration for backend against db. Unlike
// a dashboard webapp, this controller has no operator-facing CLI beyond
// the config path argument, so it migrates itself to the
// latest schema on every start rather than requiring a separate
// "--migrate-db" invocation.
func runMigrations(backend string, db *sql.DB) error {
	var m *migrate.Migrate

	switch backend {
	case "sqlite3":
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return err
		}
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", d, "sqlite3", driver)
		if err != nil {
			return err
		}
	case "mysql":
		driver, err := mysql.WithInstance(db, &mysql.Config{})
		if err != nil {
			return err
		}
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", d, "mysql", driver)
		if err != nil {
			return err
		}
	default:
		return errors.New("repository: unsupported db driver " + backend)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if dirty {
		log.Warnf("repository: database schema at version %d is marked dirty", v)
	}
	return nil
}
