// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package supervisor

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/session"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

func meterDescriptor(id string) *schema.MeterDescriptor {
	return &schema.MeterDescriptor{MeterID: id, Watermarks: map[schema.DataKind]time.Time{}}
}

func TestMergeRosterUsesLiveSnapshotAndReportsFromStore(t *testing.T) {
	live := []*schema.MeterDescriptor{meterDescriptor("mtr-1")}
	snapshot := func() ([]*schema.MeterDescriptor, error) { return live, nil }
	cacheLoad := func(schema.DataKind) ([]*schema.MeterDescriptor, bool) {
		t.Fatal("cache should not be consulted when the store is reachable")
		return nil, false
	}

	descriptors, fromStore, err := mergeRoster(snapshot, cacheLoad)
	if err != nil {
		t.Fatal(err)
	}
	if !fromStore {
		t.Error("expected fromStore to be true")
	}
	if len(descriptors) != 1 || descriptors[0].MeterID != "mtr-1" {
		t.Errorf("unexpected descriptors: %+v", descriptors)
	}
}

func TestMergeRosterFallsBackToCacheOnSnapshotFailure(t *testing.T) {
	snapshot := func() ([]*schema.MeterDescriptor, error) { return nil, errBoom }
	cacheLoad := func(kind schema.DataKind) ([]*schema.MeterDescriptor, bool) {
		if kind == schema.KindP01 {
			return []*schema.MeterDescriptor{meterDescriptor("mtr-2")}, true
		}
		return nil, false
	}

	descriptors, fromStore, err := mergeRoster(snapshot, cacheLoad)
	if err != nil {
		t.Fatal(err)
	}
	if fromStore {
		t.Error("expected fromStore to be false on fallback")
	}
	if len(descriptors) != 1 || descriptors[0].MeterID != "mtr-2" {
		t.Errorf("unexpected descriptors: %+v", descriptors)
	}
}

func TestMergeRosterFailsWhenCacheAlsoEmpty(t *testing.T) {
	snapshot := func() ([]*schema.MeterDescriptor, error) { return nil, errBoom }
	cacheLoad := func(schema.DataKind) ([]*schema.MeterDescriptor, bool) { return nil, false }

	if _, _, err := mergeRoster(snapshot, cacheLoad); err == nil {
		t.Error("expected an error when both store and cache are empty")
	}
}

type boomError string

func (e boomError) Error() string { return string(e) }

const errBoom = boomError("store unreachable")

func TestNextWatermarkUsesLatestLineTime(t *testing.T) {
	dispatched := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	earlier := dispatched.Add(-30 * time.Minute)
	later := dispatched.Add(-5 * time.Minute)

	result := session.Result{
		Dispatched: dispatched,
		Records: []schema.Record{
			{OBIS: "1.8.0", LineTime: earlier},
			{OBIS: "1.8.0", LineTime: later},
		},
	}

	candidate, advances := nextWatermark(time.Time{}, result)
	if !advances {
		t.Fatal("expected candidate to advance from zero value")
	}
	if !candidate.Equal(later) {
		t.Errorf("expected latest line time %s, got %s", later, candidate)
	}
}

func TestNextWatermarkFallsBackToDispatchedWhenNoLineTime(t *testing.T) {
	dispatched := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	result := session.Result{
		Dispatched: dispatched,
		Records:    []schema.Record{{OBIS: "1.8.0", Value: "1234"}},
	}

	candidate, advances := nextWatermark(time.Time{}, result)
	if !advances {
		t.Fatal("expected candidate to advance from zero value")
	}
	if !candidate.Equal(dispatched) {
		t.Errorf("expected dispatched instant %s, got %s", dispatched, candidate)
	}
}

func TestNextWatermarkDoesNotAdvanceOnOrBeforeExisting(t *testing.T) {
	existing := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	result := session.Result{Dispatched: existing.Add(-time.Minute)}

	_, advances := nextWatermark(existing, result)
	if advances {
		t.Error("expected watermark to not advance when the candidate is older than the stored one")
	}

	sameInstant := session.Result{Dispatched: existing}
	if _, advances := nextWatermark(existing, sameInstant); advances {
		t.Error("expected watermark to not advance when the candidate equals the stored one")
	}
}

func TestBuildDSNSqlite3UsesSchemaAsPath(t *testing.T) {
	got := buildDSN(schema.DBSection{Driver: "sqlite3", Schema: "./var/meterfleet.db"})
	if got != "./var/meterfleet.db" {
		t.Errorf("expected the schema path verbatim, got %q", got)
	}
}

func TestBuildDSNMysqlAssemblesConnectionString(t *testing.T) {
	got := buildDSN(schema.DBSection{
		Driver: "mysql", User: "meterfleet", Password: "s3cret",
		Host: "db.internal", Port: 3306, Schema: "meterfleet",
	})
	want := "meterfleet:s3cret@tcp(db.internal:3306)/meterfleet"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestWithTimeoutDefaultsFillsOnlyZeroFields(t *testing.T) {
	cfg := schema.SchedulerSection{ConnectTimeout: 5, ReadTimeout: 4}

	meter := meterDescriptor("mtr-1")
	meter.ReadTimeout = 9 * time.Second

	effective := withTimeoutDefaults(meter, cfg)
	if effective.ConnectTimeout != 5*time.Second {
		t.Errorf("expected default connect timeout, got %s", effective.ConnectTimeout)
	}
	if effective.ReadTimeout != 9*time.Second {
		t.Errorf("expected the meter's own read timeout to be preserved, got %s", effective.ReadTimeout)
	}
	if meter.ConnectTimeout != 0 {
		t.Error("the original descriptor must not be mutated")
	}
}

func TestBuildSinkWithNothingEnabledNeverAccepts(t *testing.T) {
	s, err := buildSink(schema.SinkSection{})
	if err != nil {
		t.Fatal(err)
	}
	key := schema.SinkKey{MeterID: "mtr-1", Dispatched: time.Now(), Kind: schema.KindList1}
	if s.Insert(key, nil) {
		t.Error("expected no configured sink to ever accept a batch")
	}
}

func TestBuildSinkWithMemoryEnabledAccepts(t *testing.T) {
	cfg := schema.SinkSection{}
	cfg.Memory.Enabled = true

	s, err := buildSink(cfg)
	if err != nil {
		t.Fatal(err)
	}
	key := schema.SinkKey{MeterID: "mtr-1", Dispatched: time.Now(), Kind: schema.KindList1}
	if !s.Insert(key, []schema.Record{{OBIS: "1.8.0", Value: "1"}}) {
		t.Error("expected the memory sink to accept the batch")
	}
}
