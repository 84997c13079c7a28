// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// profileHeader is the decoded KZ(ZSTs13)(S)(RP)(z)(K1)(E1)...(Kz)(Ez)
// header of a P.01/P.02 block.
type profileHeader struct {
	start      time.Time
	status     string
	periodMins int
	z          int
	obisTails  []string
	units      []string
}

// parseProfile decodes a P.01/P.02 load-profile block: one header line
// followed by pure (value)(value)... data rows until the next header or
// end-of-message.
func parseProfile(meter *schema.MeterDescriptor, body string) ([]schema.Record, error) {
	loc, err := locationFor(meter)
	if err != nil {
		return nil, err
	}

	var records []schema.Record
	lines := splitLines(body)

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "P.0") {
			continue
		}

		header, err := parseProfileHeader(line, loc)
		if err != nil {
			return nil, err
		}

		rowIdx := 0
		for j := i + 1; j < len(lines); j++ {
			row := lines[j]
			if strings.HasPrefix(row, "P.0") {
				break
			}

			values := fieldRe.FindAllStringSubmatch(row, -1)
			if len(values) < header.z {
				// Incomplete trailing row terminates the block cleanly.
				break
			}

			// The header's timestamp is row 0's instant; row i is
			// header.start + i * RP minutes.
			rowTime := header.start.Add(time.Duration(rowIdx) * time.Duration(header.periodMins) * time.Minute)

			for k := 0; k < header.z; k++ {
				v := values[k][1]
				if !reValue1.MatchString(v) {
					log.Debugf("parser: skipping non-numeric profile cell %q", v)
					continue
				}
				records = append(records, schema.Record{
					OBIS:     header.obisTails[k],
					Value:    v,
					Unit:     header.units[k],
					LineTime: rowTime,
				})
			}
			rowIdx++
			i = j
		}
	}

	return records, nil
}

func parseProfileHeader(line string, loc *time.Location) (profileHeader, error) {
	groups := fieldRe.FindAllStringSubmatch(line, -1)
	if len(groups) < 4 {
		return profileHeader{}, protoerr.Parse("profile-header", protoerr.ErrMalformedRow)
	}

	tsRaw := groups[0][1]
	if len(tsRaw) < 1 {
		return profileHeader{}, protoerr.Parse("profile-header", protoerr.ErrMalformedRow)
	}
	// Leading character is the season/type flag; the remaining 12 digits
	// are YYMMDDhhmmss.
	digits := tsRaw[1:]
	start, err := parseTimestamp(digits, loc)
	if err != nil {
		return profileHeader{}, protoerr.Parse("profile-header", err)
	}

	status := groups[1][1]
	periodMins, err := strconv.Atoi(groups[2][1])
	if err != nil {
		return profileHeader{}, protoerr.Parse("profile-header", protoerr.ErrMalformedRow)
	}

	z, err := strconv.Atoi(groups[3][1])
	if err != nil || (z != 6 && z != 8) {
		return profileHeader{}, protoerr.Parse("profile-header", protoerr.ErrUnsupportedCount)
	}

	if len(groups) < 4+2*z {
		return profileHeader{}, protoerr.Parse("profile-header", protoerr.ErrMalformedRow)
	}

	tails := make([]string, z)
	units := make([]string, z)
	for i := 0; i < z; i++ {
		tails[i] = groups[4+2*i][1]
		units[i] = groups[4+2*i+1][1]
	}

	return profileHeader{
		start:      start,
		status:     status,
		periodMins: periodMins,
		z:          z,
		obisTails:  tails,
		units:      units,
	}, nil
}
