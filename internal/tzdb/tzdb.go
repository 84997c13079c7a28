// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tzdb resolves a meter descriptor's declared timezone name —
// an IANA zone ("Europe/Berlin") or a fixed-offset name ("UTC+02:00") —
// to a *time.Location.
package tzdb

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	// Embeds the IANA database so LoadLocation works even when the host
	// has no /usr/share/zoneinfo, matching the controller's "runs inside
	// a minimal container" deployment shape.
	_ "time/tzdata"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
)

var (
	mu    sync.Mutex
	cache = map[string]*time.Location{}
)

// Lookup resolves name to a location, memoizing the result. Accepts
// standard IANA zone names and fixed-offset names of the form
// "UTC", "UTC+02:00", "UTC-05:30".
func Lookup(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	mu.Lock()
	if loc, ok := cache[name]; ok {
		mu.Unlock()
		return loc, nil
	}
	mu.Unlock()

	loc, err := resolve(name)
	if err != nil {
		return nil, protoerr.Parse("timezone", fmt.Errorf("%w: %s: %s", protoerr.ErrUnknownTimezone, name, err))
	}

	mu.Lock()
	cache[name] = loc
	mu.Unlock()
	return loc, nil
}

func resolve(name string) (*time.Location, error) {
	if name == "UTC" {
		return time.UTC, nil
	}

	if offset, ok, err := parseFixedOffset(name); ok {
		if err != nil {
			return nil, err
		}
		return time.FixedZone(name, offset), nil
	}

	return time.LoadLocation(name)
}

// parseFixedOffset recognizes "UTC+hh:mm" / "UTC-hh:mm" and returns the
// offset in seconds east of UTC. ok is false for anything not shaped
// like a fixed-offset name, signaling the caller to try an IANA lookup
// instead.
func parseFixedOffset(name string) (seconds int, ok bool, err error) {
	rest, found := strings.CutPrefix(name, "UTC")
	if !found || rest == "" {
		return 0, false, nil
	}

	sign := 1
	switch rest[0] {
	case '+':
		rest = rest[1:]
	case '-':
		sign = -1
		rest = rest[1:]
	default:
		return 0, false, nil
	}

	hh, mm, found := strings.Cut(rest, ":")
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, true, fmt.Errorf("invalid hour offset %q", hh)
	}
	minutes := 0
	if found {
		minutes, err = strconv.Atoi(mm)
		if err != nil {
			return 0, true, fmt.Errorf("invalid minute offset %q", mm)
		}
	}

	return sign * (hours*3600 + minutes*60), true, nil
}
