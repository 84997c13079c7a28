// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// parseP98 decodes a P.98 event-log line. The EMH and Metcom variants
// are distinguished by meter.Vendor: Metcom lines carry two counter
// values, lines from every other vendor a single status word.
func parseP98(meter *schema.MeterDescriptor, body string) ([]schema.Record, error) {
	loc, err := locationFor(meter)
	if err != nil {
		return nil, err
	}

	var records []schema.Record
	lastTimes := map[int64]bool{}

	for _, line := range splitLines(body) {
		if !strings.HasPrefix(line, "P.98") {
			continue
		}

		groups := fieldRe.FindAllStringSubmatch(line, -1)
		if len(groups) < 4 {
			return nil, protoerr.Parse("p98", protoerr.ErrMalformedRow)
		}

		tsRaw := groups[0][1]
		if len(tsRaw) < 1 {
			return nil, protoerr.Parse("p98", protoerr.ErrMalformedRow)
		}
		lineTime, err := parseTimestamp(tsRaw[1:], loc)
		if err != nil {
			return nil, protoerr.Parse("p98", err)
		}
		lineTime = dedupeSecond(lastTimes, lineTime)

		if meter.Vendor == schema.VendorMetcom {
			recs, err := parseP98Metcom(groups, lineTime)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
			continue
		}

		records = append(records, parseP98Emh(groups, lineTime)...)
	}

	return records, nil
}

// parseP98Emh handles P.98(1YYMMDDhhmmss)(SSSSSSSS)()(k)[(K1)()...].
func parseP98Emh(groups [][]string, lineTime time.Time) []schema.Record {
	status := groups[1][1]
	return []schema.Record{{OBIS: "100.0.98", Value: status, LineTime: lineTime}}
}

// parseP98Metcom handles
// P.98(1YYMMDDhhmmss)(00)()(2)(...C.11.0)()(...C.11.10)()(D1)(D2).
func parseP98Metcom(groups [][]string, lineTime time.Time) ([]schema.Record, error) {
	if len(groups) < 10 {
		return nil, protoerr.Parse("p98-metcom", protoerr.ErrMalformedRow)
	}
	d1 := groups[8][1]
	d2 := groups[9][1]
	return []schema.Record{
		{OBIS: "101.1.98", Value: d1, LineTime: lineTime},
		{OBIS: "101.2.98", Value: d2, LineTime: lineTime},
	}, nil
}

// dedupeSecond nudges t forward one second at a time until it is not
// already taken, implementing the "duplicate line_times are de-collided
// by adding one second" rule.
func dedupeSecond(seen map[int64]bool, t time.Time) time.Time {
	for seen[t.Unix()] {
		t = t.Add(time.Second)
	}
	seen[t.Unix()] = true
	return t
}

// parseP99 splits the 32-bit status word into 32 named bits, LSB first.
func parseP99(body string) ([]schema.Record, error) {
	for _, line := range splitLines(body) {
		if !strings.HasPrefix(line, "P.99") {
			continue
		}
		groups := fieldRe.FindAllStringSubmatch(line, -1)
		if len(groups) < 1 {
			return nil, protoerr.Parse("p99", protoerr.ErrMalformedRow)
		}
		word, err := strconv.ParseUint(groups[0][1], 16, 32)
		if err != nil {
			word, err = strconv.ParseUint(groups[0][1], 10, 32)
			if err != nil {
				return nil, protoerr.Parse("p99", protoerr.ErrMalformedRow)
			}
		}

		records := make([]schema.Record, 32)
		for i := 0; i < 32; i++ {
			bit := "0"
			if word&(1<<uint(i)) != 0 {
				bit = "1"
			}
			records[i] = schema.Record{OBIS: fmt.Sprintf("p99_bit%d", i), Value: bit}
		}
		return records, nil
	}
	return nil, protoerr.Parse("p99", protoerr.ErrMalformedRow)
}
