// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler dispatches due meter-polling sessions to a bounded
// worker pool, merging roster refreshes without losing in-flight
// schedule state.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ClusterCockpit/meterfleet/internal/metrics"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// backoff bounds CPU use on iterations where nothing is due.
const backoff = 50 * time.Millisecond

// Dispatch runs one meter/kind session. Errors are the caller's
// concern (logged and turned into metrics by the supervisor); the
// scheduler itself only decides when to call this, never whether the
// result was a success.
type Dispatch func(ctx context.Context, meter *schema.MeterDescriptor, kind schema.DataKind)

// RosterFunc returns the current active roster. Called at most once
// per refreshEvery; the scheduler treats its return value as the
// entire source of truth for which slots exist.
type RosterFunc func() ([]*schema.MeterDescriptor, error)

// Scheduler owns one Table and drives it against wall-clock time,
// fanning due slots out to a bounded worker pool. Safe for a single
// caller; Run blocks until ctx is done.
type Scheduler struct {
	table       *Table
	poolSize    int
	refreshEvery time.Duration
	roster      RosterFunc
	dispatch    Dispatch
}

// New builds a Scheduler. poolSize bounds the number of sessions
// running concurrently; refreshEvery bounds how often roster is
// consulted for new/changed/removed meters.
func New(poolSize int, refreshEvery time.Duration, roster RosterFunc, dispatch Dispatch) *Scheduler {
	return &Scheduler{
		table:        NewTable(),
		poolSize:     poolSize,
		refreshEvery: refreshEvery,
		roster:       roster,
		dispatch:     dispatch,
	}
}

// Run loops until ctx is cancelled: refresh the roster at most once
// per refreshEvery, submit every due slot to the worker pool without
// waiting for it to finish, and sleep backoff whenever nothing fired.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.poolSize)

	if err := s.refresh(); err != nil {
		return err
	}
	lastRefresh := time.Now()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		default:
		}

		if time.Since(lastRefresh) >= s.refreshEvery {
			if err := s.refresh(); err != nil {
				log.Warnf("scheduler: roster refresh failed, keeping previous schedule: %s", err.Error())
			}
			lastRefresh = time.Now()
		}

		due := s.table.Due(time.Now())
		if len(due) == 0 {
			time.Sleep(backoff)
			continue
		}

		for _, d := range due {
			meter, kind := d.Meter, d.Kind
			g.Go(func() error {
				s.dispatch(gctx, meter, kind)
				return nil
			})
		}
	}
}

func (s *Scheduler) refresh() error {
	meters, err := s.roster()
	if err != nil {
		return err
	}
	s.table.Merge(meters)
	metrics.SlotsTracked.Set(float64(s.table.Len()))
	log.Debugf("scheduler: roster refreshed, %d slots tracked", s.table.Len())
	return nil
}
