// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
	_ "github.com/mattn/go-sqlite3"
)

// setupRoster resets the package-level singletons so each test gets its
// own fresh in-memory database, without needing a shared on-disk
// test.db.
func setupRoster(t *testing.T) *RosterRepository {
	t.Helper()

	dbConnOnce = sync.Once{}
	dbConnInstance = nil
	rosterRepoOnce = sync.Once{}
	rosterRepoInstance = nil
	obisCacheMu.Lock()
	obisCache = map[string]int64{}
	obisCacheMu.Unlock()

	if err := Connect("sqlite3", ":memory:"); err != nil {
		t.Fatal(err)
	}

	r := GetRosterRepository()

	if _, err := r.DB.Exec(`INSERT INTO meters
		(meter_id, label, organization, host, port, vendor, timezone,
		 p01_interval, p98_interval, list1_interval, is_active)
		VALUES ('mtr-1', 'Basement', 'acme', '10.0.0.5', 20108, 'emh', 'Europe/Berlin', 900, 3600, 60, 1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := r.DB.Exec(`INSERT INTO queries (meter_id_fk, enrich) VALUES (1, 1)`); err != nil {
		t.Fatal(err)
	}

	return r
}

func TestSnapshotJoinsQueries(t *testing.T) {
	r := setupRoster(t)

	descriptors, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("expected 1 meter, got %d", len(descriptors))
	}

	m := descriptors[0]
	if m.MeterID != "mtr-1" {
		t.Errorf("wrong meter_id: %q", m.MeterID)
	}
	if !m.Enrich {
		t.Error("expected enrich to be true")
	}
	if m.Interval(schema.KindP01) != 15*time.Minute {
		t.Errorf("wrong p01 interval: %s", m.Interval(schema.KindP01))
	}
	if m.Interval(schema.KindP02) != 0 {
		t.Errorf("p02 should be disabled, got %s", m.Interval(schema.KindP02))
	}
	if _, ok := m.Watermark(schema.KindP01); ok {
		t.Error("expected no p01 watermark yet")
	}
}

func TestSetAndClearWatermark(t *testing.T) {
	r := setupRoster(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := r.SetWatermark("mtr-1", schema.KindP01, now); err != nil {
		t.Fatal(err)
	}

	descriptors, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	wm, ok := descriptors[0].Watermark(schema.KindP01)
	if !ok || !wm.Equal(now) {
		t.Errorf("watermark not persisted: got %s ok=%v", wm, ok)
	}

	if err := r.ClearWatermark("mtr-1", schema.KindP01); err != nil {
		t.Fatal(err)
	}
	descriptors, err = r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := descriptors[0].Watermark(schema.KindP01); ok {
		t.Error("expected watermark to be cleared")
	}
}

func TestSetWatermarkRejectsUnsupportedKind(t *testing.T) {
	r := setupRoster(t)

	if err := r.SetWatermark("mtr-1", schema.KindList1, time.Now()); err == nil {
		t.Error("expected error for a kind with no watermark field")
	}
}

func TestInsertIsIdempotentOnRetransmit(t *testing.T) {
	r := setupRoster(t)

	key := schema.SinkKey{
		Organization: "acme",
		MeterID:      "mtr-1",
		Dispatched:   time.Now().UTC().Truncate(time.Second),
		Kind:         schema.KindList1,
	}
	records := []schema.Record{
		{OBIS: "1.8.0", Value: "1234.5", Unit: "kWh"},
	}

	if ok := r.Insert(key, records); !ok {
		t.Fatal("first insert should succeed")
	}
	if ok := r.Insert(key, records); !ok {
		t.Fatal("retransmitted insert should still report success")
	}

	var count int
	if err := r.DB.Get(&count, `SELECT COUNT(*) FROM data`); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected the duplicate row to upsert in place, got %d rows", count)
	}
}

func TestInsertOnConflictReplacesValue(t *testing.T) {
	r := setupRoster(t)

	key := schema.SinkKey{
		Organization: "acme",
		MeterID:      "mtr-1",
		Dispatched:   time.Now().UTC().Truncate(time.Second),
		Kind:         schema.KindList1,
	}

	if ok := r.Insert(key, []schema.Record{{OBIS: "1.8.0", Value: "1234.5", Unit: "kWh"}}); !ok {
		t.Fatal("first insert should succeed")
	}
	if ok := r.Insert(key, []schema.Record{{OBIS: "1.8.0", Value: "1234.9", Unit: "kWh"}}); !ok {
		t.Fatal("second insert should succeed")
	}

	var value string
	if err := r.DB.Get(&value, `SELECT value FROM data`); err != nil {
		t.Fatal(err)
	}
	if value != "1234.9" {
		t.Errorf("expected the retransmitted value to win, got %q", value)
	}
}
