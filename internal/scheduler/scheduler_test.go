// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

func TestRunDispatchesDueSlotsAndStopsOnCancel(t *testing.T) {
	meter := meterWithInterval("mtr-1", schema.KindList1, time.Second)
	var calls int32

	roster := func() ([]*schema.MeterDescriptor, error) {
		return []*schema.MeterDescriptor{meter}, nil
	}
	dispatch := func(ctx context.Context, m *schema.MeterDescriptor, kind schema.DataKind) {
		atomic.AddInt32(&calls, 1)
	}

	s := New(2, time.Hour, roster, dispatch)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if atomic.LoadInt32(&calls) == 0 {
		t.Error("expected at least one dispatch within the run window")
	}
}

func TestRunPropagatesRosterError(t *testing.T) {
	roster := func() ([]*schema.MeterDescriptor, error) {
		return nil, errBoom
	}
	s := New(1, time.Hour, roster, func(context.Context, *schema.MeterDescriptor, schema.DataKind) {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != errBoom {
		t.Fatalf("expected initial roster error to surface, got %v", err)
	}
}

type boomError string

func (e boomError) Error() string { return string(e) }

const errBoom = boomError("roster unreachable")
