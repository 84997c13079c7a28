// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sink

import (
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// RelationalSink delegates straight to the Roster/Watermark Store's own
// data table, so the relational store can double as a sink without
// internal/sink importing internal/repository directly.
type RelationalSink struct {
	Inserter Sink
}

// NewRelationalSink wraps inserter (typically *repository.RosterRepository,
// which already satisfies Sink).
func NewRelationalSink(inserter Sink) *RelationalSink {
	return &RelationalSink{Inserter: inserter}
}

func (s *RelationalSink) Insert(key schema.SinkKey, records []schema.Record) bool {
	return s.Inserter.Insert(key, records)
}
