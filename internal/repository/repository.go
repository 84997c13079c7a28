// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	rosterRepoOnce     sync.Once
	rosterRepoInstance *RosterRepository
)

// RosterRepository is the relational Roster/Watermark Store and the
// relational Sink. It wraps the shared
// *sqlx.DB with a squirrel prepared-statement cache; safe for concurrent
// reads and the rare concurrent watermark/data write.
type RosterRepository struct {
	DB *sqlx.DB

	stmtCache *sq.StmtCache
}

// GetRosterRepository returns the process-wide singleton, lazily wrapping
// whatever connection repository.Connect has already established.
func GetRosterRepository() *RosterRepository {
	rosterRepoOnce.Do(func() {
		db := GetConnection()
		rosterRepoInstance = &RosterRepository{
			DB:        db.DB,
			stmtCache: sq.NewStmtCache(db.DB),
		}
	})

	return rosterRepoInstance
}
