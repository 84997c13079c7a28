// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sink

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/lrucache"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// MemorySink is a buffered key/value sink backed by an in-process LRU
// cache. It never blocks on a network round trip, so it is the sink an
// operator reaches for when durability can ride on the process staying
// up (a local staging buffer ahead of a slower downstream) rather than
// as a sink of record.
type MemorySink struct {
	cache *lrucache.Cache
	ttl   time.Duration
}

// NewMemorySink wraps cache, storing every batch under its key with
// ttl (zero means the entry never expires on its own).
func NewMemorySink(cache *lrucache.Cache, ttl time.Duration) *MemorySink {
	return &MemorySink{cache: cache, ttl: ttl}
}

func (s *MemorySink) Insert(key schema.SinkKey, records []schema.Record) bool {
	buf, err := json.Marshal(records)
	if err != nil {
		log.Errorf("sink: memory: marshal %s: %s", key, err.Error())
		return false
	}

	ttl := s.ttl
	if ttl <= 0 {
		// lrucache expires an entry ttl after insertion, so a zero ttl
		// would expire it at once.
		ttl = time.Duration(math.MaxInt64)
	}
	s.cache.Put(key.String(), buf, len(buf), ttl)
	return true
}
