// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"time"
)

// VendorFamily is the closed set of meter firmware families the session
// and parser know special-cased behavior for. Generic defaults to
// Emh-like behavior.
type VendorFamily int

const (
	VendorGeneric VendorFamily = iota
	VendorEmh
	VendorMetcom
)

func (v VendorFamily) String() string {
	switch v {
	case VendorEmh:
		return "emh"
	case VendorMetcom:
		return "metcom"
	default:
		return "generic"
	}
}

// ParseVendorFamily maps a configured vendor string onto a VendorFamily.
// Unknown values fall back to VendorGeneric.
func ParseVendorFamily(s string) VendorFamily {
	switch s {
	case "emh":
		return VendorEmh
	case "metcom":
		return VendorMetcom
	default:
		return VendorGeneric
	}
}

// CredentialKind distinguishes the two password levels the Mode C
// programming-mode authentication step supports.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialUtility
	CredentialManufacturer
)

func ParseCredentialKind(s string) CredentialKind {
	switch s {
	case "utility":
		return CredentialUtility
	case "manufacturer":
		return CredentialManufacturer
	default:
		return CredentialNone
	}
}

// DataKind enumerates the pollable data structures a meter exposes.
type DataKind string

const (
	KindList1  DataKind = "list1"
	KindList2  DataKind = "list2"
	KindList3  DataKind = "list3"
	KindList4  DataKind = "list4"
	KindP01    DataKind = "p01"
	KindP02    DataKind = "p02"
	KindP98    DataKind = "p98"
	KindP99    DataKind = "p99"
	KindP200   DataKind = "p200"
	KindP210   DataKind = "p210"
	KindP211   DataKind = "p211"
	KindError  DataKind = "error"
)

// AllDataKinds lists every pollable data kind in a stable order, used
// when building a meter's schedule slots.
var AllDataKinds = []DataKind{
	KindList1, KindList2, KindList3, KindList4,
	KindP01, KindP02,
	KindP98, KindP99, KindP200, KindP210, KindP211,
	KindError,
}

// HasWatermark reports whether a data kind resumes from a stored "from"
// timestamp after failures (profile and event-log kinds only).
func (k DataKind) HasWatermark() bool {
	return k == KindP01 || k == KindP98
}

// Credentials holds the optional Mode C authentication secret.
type Credentials struct {
	Password string
	Kind     CredentialKind
}

// MeterDescriptor is a single roster row: everything a session needs to
// dial, identify and poll one meter.
type MeterDescriptor struct {
	ID       string // stable roster identifier
	Label    string // human-readable label
	MeterID  string // /?<meter_id>! identifier sent on the wire, may differ from ID

	Organization string

	Host           string
	Port           int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// UseMeterID controls whether the Mode C request line carries the
	// meter's identifier (/?<meter_id>!\r\n) or is sent bare (/?!\r\n).
	// Most meters on a shared line need the identifier; a meter alone on
	// its own connection can be addressed either way.
	UseMeterID bool

	Vendor   VendorFamily
	Timezone string // IANA name or fixed-offset name, see internal/tzdb

	Credentials *Credentials // nil if the meter requires no authentication

	// Intervals is keyed by DataKind; a zero or missing interval disables
	// that kind for this meter.
	Intervals map[DataKind]time.Duration

	// Watermarks holds the last successfully ingested instant for the
	// data kinds that support resumption (p01, p98). Absent entries mean
	// "no watermark yet": the session falls back to the rolling window.
	Watermarks map[DataKind]time.Time

	// Enrich is read from the roster's mass-query join column. Nothing in
	// the core consults it, and no sink key carries it.
	Enrich bool

	Active bool
}

// Interval returns the polling interval for kind, or zero if disabled.
func (m *MeterDescriptor) Interval(kind DataKind) time.Duration {
	if m.Intervals == nil {
		return 0
	}
	return m.Intervals[kind]
}

// Watermark returns the stored resume point for kind and whether one was
// present.
func (m *MeterDescriptor) Watermark(kind DataKind) (time.Time, bool) {
	if m.Watermarks == nil {
		return time.Time{}, false
	}
	t, ok := m.Watermarks[kind]
	return t, ok
}

// Record is one parsed OBIS dataset element.
type Record struct {
	OBIS     string
	Value    string
	Unit     string // empty means absent
	LineTime time.Time // zero means "not applicable" (instantaneous reading)
}

// HasLineTime reports whether LineTime was set by the parser.
func (r Record) HasLineTime() bool {
	return !r.LineTime.IsZero()
}

// SinkKey identifies one dispatched polling session for sink
// bookkeeping: organization, meter, the wall-clock instant it was
// dispatched, and which data kind was read.
type SinkKey struct {
	Organization string
	MeterID      string
	Dispatched   time.Time
	Kind         DataKind
}

func (k SinkKey) String() string {
	return fmt.Sprintf("%s:%s_%d:%s", k.Organization, k.MeterID, k.Dispatched.Unix(), k.Kind)
}
