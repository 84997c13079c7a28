// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor owns the fleet controller's process lifecycle:
// configuration (re)load, the Roster/Watermark Store with its local
// cache fallback, the scheduler and worker pool, the sink adapter, and
// the ambient housekeeping jobs around them.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/config"
	"github.com/ClusterCockpit/meterfleet/internal/healthz"
	"github.com/ClusterCockpit/meterfleet/internal/housekeeping"
	"github.com/ClusterCockpit/meterfleet/internal/metrics"
	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/internal/repository"
	"github.com/ClusterCockpit/meterfleet/internal/rostercache"
	"github.com/ClusterCockpit/meterfleet/internal/scheduler"
	"github.com/ClusterCockpit/meterfleet/internal/session"
	"github.com/ClusterCockpit/meterfleet/internal/sink"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/lrucache"
	"github.com/ClusterCockpit/meterfleet/pkg/nats"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// rosterCacheNamespace prefixes every local cache file. There is only
// ever one roster per process, so this is a constant rather than
// something derived from configuration.
const rosterCacheNamespace = "roster"

// Supervisor wires every component together and drives the process
// for as long as its Run context is alive.
type Supervisor struct {
	configPath string
	status     *healthz.Status
	roster     *repository.RosterRepository
	cache      *rostercache.Store
}

// New builds a Supervisor that loads its configuration from configPath.
func New(configPath string) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		status:     healthz.NewStatus(),
	}
}

// Run loads configuration, connects the roster store, builds the
// scheduler/sink/housekeeping trio, starts the healthz/metrics server,
// and blocks until ctx is cancelled. It returns a non-nil error only
// for faults that are fatal at startup: bad configuration, or an
// unreachable roster store with no local cache to fall back to.
func (s *Supervisor) Run(ctx context.Context) error {
	config.Init(s.configPath)
	cfg := config.Get()

	if err := repository.Connect(cfg.DB.Driver, buildDSN(cfg.DB)); err != nil {
		return protoerr.Config("connect", err)
	}
	s.roster = repository.GetRosterRepository()

	cache, err := rostercache.New(cfg.Scheduler.RosterCachePath)
	if err != nil {
		return protoerr.Config("roster-cache", err)
	}
	s.cache = cache

	sinkAdapter, err := buildSink(cfg.Sink)
	if err != nil {
		return protoerr.Config("sink", err)
	}

	sched := scheduler.New(
		cfg.Scheduler.WorkerPoolSize,
		repository.GetConfig().SnapshotMinInterval,
		s.refreshRoster,
		s.dispatcher(sinkAdapter, cfg),
	)

	if err := housekeeping.Start(housekeeping.Config{
		ReloadConfig: func() { config.Reload(s.configPath) },
		ReloadEvery:  config.ReloadInterval,
		PruneCache:   func() { _ = s.cache.Prune(30 * 24 * time.Hour) },
	}); err != nil {
		return protoerr.Config("housekeeping", err)
	}
	defer housekeeping.Shutdown()

	srv := &http.Server{
		Addr:         cfg.Healthz.Addr,
		Handler:      healthz.Router(s.status),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("supervisor: healthz server: %s", err.Error())
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	var schedErr error
	select {
	case <-ctx.Done():
		schedErr = <-runErr
	case err := <-runErr:
		schedErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if ctx.Err() != nil {
		return nil
	}
	return schedErr
}

// refreshRoster loads the live roster from the relational store, and
// falls back to the local cache (per kind) on failure.
func (s *Supervisor) refreshRoster() ([]*schema.MeterDescriptor, error) {
	descriptors, fromStore, err := mergeRoster(s.roster.Snapshot, func(kind schema.DataKind) ([]*schema.MeterDescriptor, bool) {
		return s.cache.Load(rosterCacheNamespace, kind)
	})
	if err != nil {
		return nil, protoerr.Config("roster", err)
	}

	if fromStore {
		for _, kind := range schema.AllDataKinds {
			if saveErr := s.cache.Save(rosterCacheNamespace, kind, descriptors); saveErr != nil {
				log.Warnf("supervisor: caching roster snapshot for %s: %s", kind, saveErr.Error())
			}
		}
	}

	s.status.SetReady(true)
	return descriptors, nil
}

// mergeRoster loads the live roster via snapshot, and falls back to
// cacheLoad (per data kind) when snapshot fails. The fallback is only
// exhausted, and an error returned, once every data kind's cache is
// also empty; a partial cache hit still lets already-known meters keep
// polling while the backing store is down. The second return value
// reports whether descriptors came straight from the store, so the
// caller knows whether to refresh the cache.
func mergeRoster(snapshot func() ([]*schema.MeterDescriptor, error), cacheLoad func(schema.DataKind) ([]*schema.MeterDescriptor, bool)) ([]*schema.MeterDescriptor, bool, error) {
	descriptors, err := snapshot()
	if err == nil {
		return descriptors, true, nil
	}

	log.Warnf("supervisor: roster source unreachable: %s", err.Error())
	merged := map[string]*schema.MeterDescriptor{}
	found := false
	for _, kind := range schema.AllDataKinds {
		cached, ok := cacheLoad(kind)
		if !ok {
			continue
		}
		found = true
		for _, m := range cached {
			merged[m.MeterID] = m
		}
	}

	if !found {
		return nil, false, protoerr.ErrRosterUnavailable
	}

	descriptors = make([]*schema.MeterDescriptor, 0, len(merged))
	for _, m := range merged {
		descriptors = append(descriptors, m)
	}
	return descriptors, false, nil
}

// dispatcher closes over sk and cfg and returns the per-slot work
// function the scheduler's worker pool invokes. A session failure or a
// rejected sink insert leaves the meter's watermark untouched, so the
// next poll retries the same window.
func (s *Supervisor) dispatcher(sk sink.Sink, cfg *schema.ProgramConfig) scheduler.Dispatch {
	return func(ctx context.Context, meter *schema.MeterDescriptor, kind schema.DataKind) {
		start := time.Now()

		sessionCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Scheduler.SessionTimeout)*time.Second)
		defer cancel()

		result, err := session.Run(sessionCtx, withTimeoutDefaults(meter, cfg.Scheduler), kind, start)
		metrics.ObserveSession(kind, err == nil, time.Since(start).Seconds())
		if err != nil {
			log.Warnf("supervisor: session %s/%s failed: %s", meter.MeterID, kind, err.Error())
			return
		}

		key := schema.SinkKey{
			Organization: strings.ToLower(meter.Organization),
			MeterID:      meter.MeterID,
			Dispatched:   result.Dispatched,
			Kind:         kind,
		}
		if !sk.Insert(key, result.Records) {
			log.Warnf("supervisor: sink rejected batch %s", key)
			return
		}

		if !kind.HasWatermark() {
			return
		}
		s.advanceWatermark(meter, kind, result)
	}
}

// withTimeoutDefaults returns a shallow copy of meter with zero-value
// connect/read timeouts (no per-meter override in the roster) replaced
// by the scheduler's configured defaults. A copy is required because
// meter is shared across every kind a session dispatches for it; the
// scheduler defaults must never be written back into the roster's own
// descriptor.
func withTimeoutDefaults(meter *schema.MeterDescriptor, cfg schema.SchedulerSection) *schema.MeterDescriptor {
	effective := *meter
	if effective.ConnectTimeout <= 0 {
		effective.ConnectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	if effective.ReadTimeout <= 0 {
		effective.ReadTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	}
	return &effective
}

// advanceWatermark persists the new resume point for meter/kind, but
// only if it strictly advances on the one already on record: a retried
// or out-of-order session must never move a watermark backwards.
func (s *Supervisor) advanceWatermark(meter *schema.MeterDescriptor, kind schema.DataKind, result session.Result) {
	existing, _ := meter.Watermark(kind)
	candidate, advances := nextWatermark(existing, result)
	if !advances {
		return
	}

	if err := s.roster.SetWatermark(meter.MeterID, kind, candidate); err != nil {
		log.Errorf("supervisor: advancing watermark for %s/%s: %s", meter.MeterID, kind, err.Error())
		return
	}
	metrics.ObserveWatermark(meter.MeterID, kind, time.Since(candidate).Seconds())
}

// nextWatermark computes the candidate resume point for one session
// result: the latest record line-time, or the dispatch instant itself
// when no record carries one. advances is false when the candidate
// would not move existing forward, in which case the caller must leave
// the stored watermark untouched.
func nextWatermark(existing time.Time, result session.Result) (candidate time.Time, advances bool) {
	candidate = result.Dispatched
	var latest time.Time
	for _, rec := range result.Records {
		if rec.HasLineTime() && rec.LineTime.After(latest) {
			latest = rec.LineTime
		}
	}
	if !latest.IsZero() {
		candidate = latest
	}
	return candidate, candidate.After(existing)
}

func buildSink(cfg schema.SinkSection) (sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Relational.Enabled {
		sinks = append(sinks, sink.NewRelationalSink(repository.GetRosterRepository()))
	}

	if cfg.Memory.Enabled {
		ttl := 24 * time.Hour
		if cfg.Memory.DefaultTTL != "" {
			if d, err := time.ParseDuration(cfg.Memory.DefaultTTL); err == nil {
				ttl = d
			}
		}
		maxBytes := cfg.Memory.MaxMemoryByte
		if maxBytes <= 0 {
			maxBytes = 64 << 20
		}
		sinks = append(sinks, sink.NewMemorySink(lrucache.New(maxBytes), ttl))
	}

	if cfg.Nats.Enabled {
		client, err := nats.NewClient(&nats.NatsConfig{
			Address:       cfg.Nats.Address,
			Username:      cfg.Nats.Username,
			Password:      cfg.Nats.Password,
			CredsFilePath: cfg.Nats.CredsFilePath,
		})
		if err != nil {
			return nil, err
		}
		prefix := cfg.Nats.SubjectPrefix
		if prefix == "" {
			prefix = "meterfleet"
		}
		sinks = append(sinks, sink.NewNatsSink(client, prefix))
	}

	return sink.NewMultiSink(sinks...), nil
}

// buildDSN renders the DB section into the driver-specific string
// repository.Connect expects. sqlite3's dsn is just the file path;
// mysql's is assembled from the discrete host/port/user fields.
func buildDSN(db schema.DBSection) string {
	if db.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", db.User, db.Password, db.Host, db.Port, db.Schema)
	}
	return db.Schema
}
