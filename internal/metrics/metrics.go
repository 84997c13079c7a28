// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus instrumentation for session
// outcomes and watermark lag, registered against the default registry
// so a single /metrics handler can serve them alongside Go's own
// runtime metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

var (
	// SessionsTotal counts every completed session, partitioned by
	// data kind and outcome ("ok" or "failed").
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meterfleet",
		Name:      "sessions_total",
		Help:      "Total number of meter-reading sessions, by data kind and outcome.",
	}, []string{"kind", "outcome"})

	// SessionDuration tracks session wall-clock time, by data kind.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meterfleet",
		Name:      "session_duration_seconds",
		Help:      "Meter-reading session duration in seconds, by data kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// WatermarkLagSeconds reports how far behind wall-clock time each
	// meter's last successful watermark is, by meter and kind. Set
	// after every watermark advance; never explicitly reset, so the
	// series of a decommissioned meter stays exported at its last value
	// after the meter leaves the roster.
	WatermarkLagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meterfleet",
		Name:      "watermark_lag_seconds",
		Help:      "Seconds between now and the last advanced watermark, by meter and data kind.",
	}, []string{"meter_id", "kind"})

	// SlotsTracked reports how many (meter, kind) schedule slots the
	// scheduler currently holds, after the most recent roster merge.
	SlotsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meterfleet",
		Name:      "scheduler_slots_tracked",
		Help:      "Number of (meter, kind) schedule slots currently tracked by the scheduler.",
	})
)

// ObserveSession records one completed session's outcome and its kind
// tag, and files its duration into the latency histogram.
func ObserveSession(kind schema.DataKind, ok bool, durationSeconds float64) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	SessionsTotal.WithLabelValues(string(kind), outcome).Inc()
	SessionDuration.WithLabelValues(string(kind)).Observe(durationSeconds)
}

// ObserveWatermark records how far behind now the just-advanced
// watermark instant is.
func ObserveWatermark(meterID string, kind schema.DataKind, lagSeconds float64) {
	WatermarkLagSeconds.WithLabelValues(meterID, string(kind)).Set(lagSeconds)
}
