// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// Insert ships one dispatched batch into the data table, satisfying the
// Sink Adapter contract: insert(key, records) -> bool.
// A duplicate (meter, ts, obis) row from a retried session never fails
// the batch: it upserts, replacing the stored value with the
// retransmitted one, so a later, corrected re-delivery always wins.
func (r *RosterRepository) Insert(key schema.SinkKey, records []schema.Record) bool {
	if len(records) == 0 {
		return true
	}

	meterDBID, err := r.meterDBID(key.MeterID)
	if err != nil {
		log.Errorf("repository: insert: resolving meter %q: %s", key.MeterID, err.Error())
		return false
	}

	ts := key.Dispatched
	insert := sq.Insert("data").Columns("meter_id_fk", "ts", "obis_id_fk", "value", "unit")

	for _, rec := range records {
		obisID, err := r.obisID(rec.OBIS)
		if err != nil {
			log.Errorf("repository: insert: resolving obis %q: %s", rec.OBIS, err.Error())
			return false
		}

		rowTime := ts
		if rec.HasLineTime() {
			rowTime = rec.LineTime
		}
		insert = insert.Values(meterDBID, rowTime, obisID, rec.Value, rec.Unit)
	}

	if _, err := insert.Suffix(onConflictUpsert).RunWith(r.stmtCache).Exec(); err != nil {
		log.Errorf("repository: insert: %s", err.Error())
		return false
	}

	return true
}

// onConflictUpsert replaces the value of an already-ingested row on the
// unique (meter_id_fk, ts, obis_id_fk) index with the re-delivered one.
// sqlite3 and mysql use different spellings, and the driver in use
// decides which one applies at query-build time via SetConflictSuffix.
var onConflictUpsert = "ON CONFLICT (meter_id_fk, ts, obis_id_fk) DO UPDATE SET value = excluded.value"

// SetConflictSuffix switches the upsert suffix for the mysql driver,
// which has no ON CONFLICT clause. Called once by Connect after the
// driver is known.
func SetConflictSuffix(driver string) {
	if driver == "mysql" {
		onConflictUpsert = "ON DUPLICATE KEY UPDATE value = VALUES(value)"
	}
}

func (r *RosterRepository) meterDBID(meterID string) (int64, error) {
	var id int64
	err := sq.Select("id").From("meters").Where("meter_id = ?", meterID).
		RunWith(r.stmtCache).QueryRow().Scan(&id)
	return id, err
}
