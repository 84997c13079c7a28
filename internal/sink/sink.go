// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sink adapts a dispatched batch of meter records onto one or
// more durable destinations: a relational store, an in-memory buffered
// cache, or a message bus subject. Every adapter implements the same
// narrow contract so the scheduler never needs to know which
// combination is configured.
package sink

import (
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// Sink accepts one dispatched session's records under key and reports
// whether they were durably accepted. A false return means the caller
// should keep its watermark unchanged so the next poll retries the
// same window.
type Sink interface {
	Insert(key schema.SinkKey, records []schema.Record) bool
}

// Func adapts a plain function to the Sink interface, mirroring the
// standard library's http.HandlerFunc idiom.
type Func func(key schema.SinkKey, records []schema.Record) bool

func (f Func) Insert(key schema.SinkKey, records []schema.Record) bool {
	return f(key, records)
}
