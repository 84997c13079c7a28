// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"sync"

	sq "github.com/Masterminds/squirrel"
)

// obisCache memoizes the obis -> id mapping. The obis code set per meter
// family is small and effectively static, so a plain mutex-guarded map
// outperforms a TTL cache here.
var (
	obisCacheMu sync.Mutex
	obisCache   = map[string]int64{}
)

// obisID returns the primary key for code, inserting a new obis row on
// first sight. Concurrent dispatches for the same never-seen code may
// race; the UNIQUE constraint on obis.obis resolves the race and the
// loser re-reads the winner's row.
func (r *RosterRepository) obisID(code string) (int64, error) {
	obisCacheMu.Lock()
	if id, ok := obisCache[code]; ok {
		obisCacheMu.Unlock()
		return id, nil
	}
	obisCacheMu.Unlock()

	var id int64
	err := sq.Select("id").From("obis").Where("obis = ?", code).
		RunWith(r.stmtCache).QueryRow().Scan(&id)
	if err == nil {
		obisCacheMu.Lock()
		obisCache[code] = id
		obisCacheMu.Unlock()
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := sq.Insert("obis").Columns("obis").Values(code).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		// Lost the insert race; the row now exists, read it back.
		err2 := sq.Select("id").From("obis").Where("obis = ?", code).
			RunWith(r.stmtCache).QueryRow().Scan(&id)
		if err2 != nil {
			return 0, err
		}
		obisCacheMu.Lock()
		obisCache[code] = id
		obisCacheMu.Unlock()
		return id, nil
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	obisCacheMu.Lock()
	obisCache[code] = id
	obisCacheMu.Unlock()
	return id, nil
}
