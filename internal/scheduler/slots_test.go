// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

func meterWithInterval(id string, kind schema.DataKind, interval time.Duration) *schema.MeterDescriptor {
	return &schema.MeterDescriptor{
		MeterID: id,
		Active:  true,
		Intervals: map[schema.DataKind]time.Duration{
			kind: interval,
		},
	}
}

func TestBucketingLawDispatchesExactlyOnBucketBoundaries(t *testing.T) {
	table := NewTable()
	table.Merge([]*schema.MeterDescriptor{meterWithInterval("mtr-1", schema.KindList1, 900*time.Second)})

	epoch := time.Unix(0, 0).UTC()

	due := table.Due(epoch)
	if len(due) != 1 {
		t.Fatalf("expected dispatch at t=0, got %d due slots", len(due))
	}

	if due := table.Due(epoch.Add(450 * time.Second)); len(due) != 0 {
		t.Errorf("expected no dispatch at t=450 with unchanged state, got %d", len(due))
	}

	if due := table.Due(epoch.Add(899 * time.Second)); len(due) != 0 {
		t.Errorf("expected no dispatch at t=899, got %d", len(due))
	}

	due = table.Due(epoch.Add(900 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected dispatch at t=900, got %d", len(due))
	}

	due = table.Due(epoch.Add(1800 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected dispatch at t=1800, got %d", len(due))
	}
}

func TestMergePreservesLastBucketForSurvivingSlots(t *testing.T) {
	table := NewTable()
	m := meterWithInterval("mtr-1", schema.KindP01, 60*time.Second)
	table.Merge([]*schema.MeterDescriptor{m})

	now := time.Unix(120, 0).UTC()
	if due := table.Due(now); len(due) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(due))
	}

	// Re-merging the same meter must not reset last_bucket: the next
	// Due call at the same instant must not re-dispatch.
	table.Merge([]*schema.MeterDescriptor{m})
	if due := table.Due(now); len(due) != 0 {
		t.Errorf("expected no re-dispatch after a no-op roster refresh, got %d", len(due))
	}
}

func TestMergeDiscardsDisappearedMeters(t *testing.T) {
	table := NewTable()
	m := meterWithInterval("mtr-1", schema.KindP01, 60*time.Second)
	table.Merge([]*schema.MeterDescriptor{m})
	if table.Len() != 1 {
		t.Fatalf("expected 1 slot, got %d", table.Len())
	}

	table.Merge(nil)
	if table.Len() != 0 {
		t.Errorf("expected slot to be discarded once its meter disappears, got %d", table.Len())
	}
}

func TestMergeInitializesNewMeterToDispatchOnNextIteration(t *testing.T) {
	table := NewTable()
	m := meterWithInterval("mtr-1", schema.KindP01, 60*time.Second)

	now := time.Unix(3600, 0).UTC()
	table.Merge([]*schema.MeterDescriptor{m})

	due := table.Due(now)
	if len(due) != 1 {
		t.Fatalf("expected a newly appeared meter to dispatch on the very next check, got %d", len(due))
	}
}

func TestMergeDropsInactiveMeters(t *testing.T) {
	table := NewTable()
	m := meterWithInterval("mtr-1", schema.KindP01, 60*time.Second)
	m.Active = false
	table.Merge([]*schema.MeterDescriptor{m})

	if table.Len() != 0 {
		t.Errorf("expected inactive meter to produce no slots, got %d", table.Len())
	}
}
