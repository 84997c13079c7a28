// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rostercache implements the Roster/Watermark Store's local-file
// fallback: a JSON snapshot per (schema, kind), written on
// every successful store read and consulted only when the store is
// unreachable.
package rostercache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// Store reads and writes one local cache file per (schema, kind) under
// Dir. It has no notion of staleness beyond what the caller decides; the
// supervisor is the one that terminates when no cache is present.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("rostercache: creating cache dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

type cachedSnapshot struct {
	WrittenAt time.Time                  `json:"written_at"`
	Meters    []*schema.MeterDescriptor `json:"meters"`
}

func (s *Store) path(schemaName string, kind schema.DataKind) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s.%s.json", schemaName, kind))
}

// Save filters all to the meters for which kind is enabled and writes
// them as the cache for (schemaName, kind). Called after every
// successful snapshot read from the backing store.
func (s *Store) Save(schemaName string, kind schema.DataKind, all []*schema.MeterDescriptor) error {
	filtered := make([]*schema.MeterDescriptor, 0, len(all))
	for _, m := range all {
		if m.Interval(kind) > 0 {
			filtered = append(filtered, m)
		}
	}

	buf, err := json.Marshal(cachedSnapshot{WrittenAt: time.Now(), Meters: filtered})
	if err != nil {
		return fmt.Errorf("rostercache: marshal: %w", err)
	}

	if err := os.WriteFile(s.path(schemaName, kind), buf, 0o640); err != nil {
		return fmt.Errorf("rostercache: write: %w", err)
	}
	return nil
}

// Load returns the last cached snapshot for (schemaName, kind). The
// second return value is false if no cache file exists yet.
func (s *Store) Load(schemaName string, kind schema.DataKind) ([]*schema.MeterDescriptor, bool) {
	buf, err := os.ReadFile(s.path(schemaName, kind))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("rostercache: reading cache for %s/%s: %s", schemaName, kind, err.Error())
		}
		return nil, false
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(buf, &cached); err != nil {
		log.Warnf("rostercache: corrupt cache for %s/%s: %s", schemaName, kind, err.Error())
		return nil, false
	}

	log.Infof("rostercache: using cache for %s/%s written at %s", schemaName, kind, cached.WrittenAt)
	return cached.Meters, true
}

// Prune removes cache files last modified more than maxAge ago. A
// decommissioned (schema, kind) pair — one no longer produced by any
// active meter — would otherwise sit on disk forever, since Save only
// ever writes and Load never deletes.
func (s *Store) Prune(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return fmt.Errorf("rostercache: prune: reading %s: %w", s.Dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.Dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warnf("rostercache: prune: removing %s: %s", path, err.Error())
				continue
			}
			log.Infof("rostercache: pruned stale cache file %s", path)
		}
	}
	return nil
}
