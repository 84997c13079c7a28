// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package healthz

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzReportsNotReadyUntilSet(t *testing.T) {
	status := NewStatus()
	r := Router(status)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", rr.Code)
	}

	status.SetReady(true)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 after ready, got %d", rr.Code)
	}
}

func TestMetricsRouteServesPrometheusFormat(t *testing.T) {
	r := Router(NewStatus())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a content-type header from promhttp.Handler")
	}
}
