// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

func TestObserveSessionIncrementsCounterByOutcome(t *testing.T) {
	ObserveSession(schema.KindList1, true, 0.5)
	ObserveSession(schema.KindList1, false, 1.2)

	if got := testutil.ToFloat64(SessionsTotal.WithLabelValues("list1", "ok")); got < 1 {
		t.Errorf("expected at least one ok sample, got %v", got)
	}
	if got := testutil.ToFloat64(SessionsTotal.WithLabelValues("list1", "failed")); got < 1 {
		t.Errorf("expected at least one failed sample, got %v", got)
	}
}

func TestObserveWatermarkSetsGauge(t *testing.T) {
	ObserveWatermark("mtr-1", schema.KindP01, 42)

	if got := testutil.ToFloat64(WatermarkLagSeconds.WithLabelValues("mtr-1", "p01")); got != 42 {
		t.Errorf("expected gauge to read 42, got %v", got)
	}
}
