// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package housekeeping runs the fleet controller's periodic ambient
// jobs — config reload and local-cache pruning — on a single gocron
// scheduler, independent of the per-meter session work the scheduler
// package dispatches and independent of that package's own roster
// refresh ticker.
package housekeeping

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
)

var s gocron.Scheduler

// pruneInterval is fixed rather than configurable: cache staleness is
// an operational nicety, not a tunable the operator needs to reach
// for.
const pruneInterval = time.Hour

// Config carries every callback housekeeping needs to wire its jobs,
// keeping this package a leaf that never imports internal/repository,
// internal/rostercache or internal/config directly.
type Config struct {
	// ReloadConfig, if non-nil, runs every ReloadEvery tick.
	ReloadConfig func()
	ReloadEvery  time.Duration

	// PruneCache, if non-nil, runs once an hour to remove stale local
	// roster-cache files.
	PruneCache func()
}

// Start builds a fresh gocron scheduler and registers every configured
// job. Called once at supervisor startup.
func Start(cfg Config) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s = sched

	if cfg.ReloadConfig != nil && cfg.ReloadEvery > 0 {
		registerJob("config reload", cfg.ReloadEvery, cfg.ReloadConfig)
	}
	if cfg.PruneCache != nil {
		registerJob("cache prune", pruneInterval, cfg.PruneCache)
	}

	s.Start()
	return nil
}

// Shutdown stops every registered job. Safe to call even if Start was
// never called or failed.
func Shutdown() {
	if s != nil {
		s.Shutdown()
	}
}

func registerJob(name string, interval time.Duration, task func()) {
	log.Infof("housekeeping: registering %s job every %s", name, interval)
	if _, err := s.NewJob(gocron.DurationJob(interval), gocron.NewTask(task)); err != nil {
		log.Errorf("housekeeping: could not register %s job: %s", name, err.Error())
	}
}
