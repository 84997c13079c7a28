// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package parser decodes IEC 62056-21 / COSEM OBIS reply bodies into
// normalized records. Every exported function here is
// pure: given the same raw reply and meter context it returns the same
// records, with no I/O.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/internal/tzdb"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

var (
	// fieldRe matches one "(...)" group inside a data line, capturing its
	// raw contents (possibly empty).
	fieldRe = regexp.MustCompile(`\(([^()]*)\)`)

	reValue1 = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	reValue2 = regexp.MustCompile(`^[\x20-\x7e]*$`)

	tariffSuffixRe = regexp.MustCompile(`\*\d{1,2}$`)
)

// Parse dispatches a fully-assembled reply body (already stripped of
// parity and framing delimiters by the Framer) to the grammar matching
// kind, returning the records it yields. No grammar consults now;
// records of instantaneous readouts are returned without a line_time.
func Parse(kind schema.DataKind, meter *schema.MeterDescriptor, body string, now time.Time) ([]schema.Record, error) {
	switch kind {
	case schema.KindP01, schema.KindP02:
		return parseProfile(meter, body)
	case schema.KindP98:
		return parseP98(meter, body)
	case schema.KindP99:
		return parseP99(body)
	case schema.KindError:
		return parseErrorRegister(body)
	case schema.KindP200, schema.KindP210, schema.KindP211:
		return parseOpaqueLog(kind, body)
	case schema.KindList1, schema.KindList2, schema.KindList3, schema.KindList4:
		return parseList(body)
	default:
		return nil, protoerr.Parse("dispatch", protoerr.ErrUnknownKind)
	}
}

// splitLines breaks a reply into logical CRLF-delimited lines, dropping
// a leading identification echo line and the final "!"-terminated
// end-of-message marker.
func splitLines(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for i, line := range raw {
		if i == 0 && strings.HasPrefix(line, "/") {
			continue
		}
		if len(line) < 5 && strings.Contains(line, "!") {
			break
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// normalizeAddress retains the last colon-suffixed tail of an
// A-B:C.D.E-style OBIS address, rejecting addresses containing ".." or
// "/" as malformed (non-fatal for list parsing).
func normalizeAddress(addr string) (string, error) {
	if strings.Contains(addr, "..") || strings.Contains(addr, "/") {
		return "", protoerr.ErrMalformedRow
	}
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[idx+1:]
	}
	return addr, nil
}

// parseList handles list1..list4: one address(value[*unit]) data set per
// line, skipping historical *NN tariff variants.
func parseList(body string) ([]schema.Record, error) {
	var records []schema.Record
	for _, line := range splitLines(body) {
		addr, rest, ok := splitAddress(line)
		if !ok {
			log.Debugf("parser: malformed list line %q", line)
			continue
		}
		if tariffSuffixRe.MatchString(addr) {
			continue
		}
		addr, err := normalizeAddress(addr)
		if err != nil {
			log.Debugf("parser: malformed address in list line %q", line)
			continue
		}

		value, unit := splitValueUnit(rest)
		if !reValue1.MatchString(value) && !reValue2.MatchString(value) {
			log.Debugf("parser: unparsable value %q in list line %q", value, line)
			continue
		}
		records = append(records, schema.Record{OBIS: addr, Value: value, Unit: unit})
	}
	return records, nil
}

// splitAddress separates the leading address from the first "(...)"
// group of a data-set line, returning that group's raw contents. Any
// further bracket groups trailing the first one (a meter's own
// retransmitted timestamp tag, commonly) are discarded; only the
// historical/tariff grammars in parseProfile and parseP98 consume more
// than one group per line.
func splitAddress(line string) (addr, rest string, ok bool) {
	idx := strings.IndexByte(line, '(')
	if idx < 0 {
		return "", "", false
	}
	end := strings.IndexByte(line[idx+1:], ')')
	if end < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1 : idx+1+end], true
}

// splitValueUnit separates a "(value*unit)" group's raw contents.
func splitValueUnit(raw string) (value, unit string) {
	if idx := strings.IndexByte(raw, '*'); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, ""
}

func parseErrorRegister(body string) ([]schema.Record, error) {
	for _, line := range splitLines(body) {
		if !strings.HasPrefix(line, "F.F") {
			continue
		}
		groups := fieldRe.FindAllStringSubmatch(line, -1)
		if len(groups) != 1 {
			return nil, protoerr.Parse("error-register", protoerr.ErrMalformedRow)
		}
		return []schema.Record{{OBIS: "F.F", Value: groups[0][1], Unit: "log"}}, nil
	}
	return nil, protoerr.Parse("error-register", protoerr.ErrMalformedRow)
}

func parseOpaqueLog(kind schema.DataKind, body string) ([]schema.Record, error) {
	obis := opaqueOBIS(kind)
	for _, line := range splitLines(body) {
		if !strings.HasPrefix(line, string(kindTag(kind))) {
			continue
		}
		return []schema.Record{{OBIS: obis, Value: line}}, nil
	}
	return nil, protoerr.Parse("opaque-log", protoerr.ErrMalformedRow)
}

func kindTag(kind schema.DataKind) string {
	switch kind {
	case schema.KindP200:
		return "P.200"
	case schema.KindP210:
		return "P.210"
	case schema.KindP211:
		return "P.211"
	default:
		return ""
	}
}

func opaqueOBIS(kind schema.DataKind) string {
	switch kind {
	case schema.KindP200:
		return "100.0.200"
	case schema.KindP210:
		return "100.0.210"
	case schema.KindP211:
		return "100.0.211"
	default:
		return ""
	}
}

// parseTimestamp decodes a 10 or 12-digit YYMMDDhhmm[ss] field (with
// optional leading season/type flag digit already stripped by the
// caller) in loc.
func parseTimestamp(digits string, loc *time.Location) (time.Time, error) {
	if len(digits) != 10 && len(digits) != 12 {
		return time.Time{}, protoerr.ErrMalformedRow
	}
	layout := "0601021504"
	if len(digits) == 12 {
		layout = "060102150405"
	}
	t, err := time.ParseInLocation(layout, digits, loc)
	if err != nil {
		return time.Time{}, protoerr.ErrMalformedRow
	}
	return t, nil
}

// locationFor resolves the meter's declared timezone. tzdb's error is
// returned unchanged; it already carries the parse category.
func locationFor(meter *schema.MeterDescriptor) (*time.Location, error) {
	loc, err := tzdb.Lookup(meter.Timezone)
	if err != nil {
		return nil, err
	}
	return loc, nil
}
