// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package healthz exposes the fleet controller's small auxiliary HTTP
// surface: a liveness/readiness probe and a Prometheus scrape
// endpoint, routed with gorilla/mux.
package healthz

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status reports the supervisor's current readiness for /healthz.
type Status struct {
	// ready is 0 until the roster has been loaded at least once
	// (either from the store or from the local cache), 1 after.
	ready int32

	startedAt time.Time
}

// NewStatus returns a Status starting as not-ready.
func NewStatus() *Status {
	return &Status{startedAt: time.Now()}
}

// SetReady flips the readiness flag. Called once the first roster
// snapshot (or cache fallback) has been loaded.
func (s *Status) SetReady(ready bool) {
	v := int32(0)
	if ready {
		v = 1
	}
	atomic.StoreInt32(&s.ready, v)
}

func (s *Status) isReady() bool {
	return atomic.LoadInt32(&s.ready) == 1
}

type healthBody struct {
	Ready  bool   `json:"ready"`
	Uptime string `json:"uptime"`
}

// Router builds the /healthz and /metrics routes. The caller mounts
// this at whatever prefix it likes, or serves it standalone.
func Router(status *Status) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		body := healthBody{
			Ready:  status.isReady(),
			Uptime: time.Since(status.startedAt).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !body.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
