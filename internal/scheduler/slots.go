// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

type slotKey struct {
	meterID string
	kind    schema.DataKind
}

type slot struct {
	meter      *schema.MeterDescriptor
	interval   time.Duration
	lastBucket int64
}

// neverDispatched is the last_bucket sentinel for a slot that has not
// fired yet, guaranteeing bucket(now) > lastBucket on its first check
// regardless of how far into epoch time now already is.
const neverDispatched int64 = -1

// DueSlot is one (meter, kind) pair ready for dispatch.
type DueSlot struct {
	Meter *schema.MeterDescriptor
	Kind  schema.DataKind
}

// Table tracks one schedule slot per (meter_id, kind) and decides when
// each is due, per the bucket model: a slot with interval I is due at
// most once per floor(now/I) bucket.
type Table struct {
	slots map[slotKey]*slot
}

// NewTable returns an empty slot table.
func NewTable() *Table {
	return &Table{slots: map[slotKey]*slot{}}
}

// Merge reconciles the table against a fresh roster snapshot. Meters
// that remain keep their last_bucket; meters or kinds that disappeared
// are dropped; newly appeared (meter, kind) pairs start at
// neverDispatched so the very next Due call fires them once.
func (t *Table) Merge(meters []*schema.MeterDescriptor) {
	fresh := map[slotKey]*schema.MeterDescriptor{}
	for _, m := range meters {
		if !m.Active {
			continue
		}
		for _, kind := range schema.AllDataKinds {
			interval := m.Interval(kind)
			if interval <= 0 {
				continue
			}
			fresh[slotKey{meterID: m.MeterID, kind: kind}] = m
		}
	}

	for key := range t.slots {
		if _, ok := fresh[key]; !ok {
			delete(t.slots, key)
		}
	}

	for key, m := range fresh {
		interval := m.Interval(key.kind)
		if existing, ok := t.slots[key]; ok {
			existing.meter = m
			existing.interval = interval
			continue
		}
		t.slots[key] = &slot{meter: m, interval: interval, lastBucket: neverDispatched}
	}
}

// Due returns every slot whose bucket has advanced past its
// last-dispatched bucket as of now, and immediately marks each
// returned slot's last_bucket as consumed so a repeated call at the
// same instant (or an earlier bucket) never double-dispatches it.
func (t *Table) Due(now time.Time) []DueSlot {
	var due []DueSlot
	for key, s := range t.slots {
		seconds := int64(s.interval / time.Second)
		if seconds <= 0 {
			continue
		}
		bucket := now.Unix() / seconds
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			due = append(due, DueSlot{Meter: s.meter, Kind: key.kind})
		}
	}
	return due
}

// Len reports the number of tracked slots, for observability.
func (t *Table) Len() int {
	return len(t.slots)
}
