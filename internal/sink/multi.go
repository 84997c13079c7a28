// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sink

import (
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// MultiSink fans one batch out to every configured sink. A batch
// counts as durably accepted once at least one sink confirms it; a
// failing sink is logged but never blocks the others from being
// attempted.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Order is preserved only for
// logging; every sink is always attempted regardless of earlier
// results.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Insert(key schema.SinkKey, records []schema.Record) bool {
	accepted := false
	for _, s := range m.sinks {
		if s.Insert(key, records) {
			accepted = true
		} else {
			log.Warnf("sink: multi: a sink rejected batch %s", key)
		}
	}
	return accepted
}
