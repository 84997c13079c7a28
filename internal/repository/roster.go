// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

var meterColumns = []string{
	"meters.id", "meters.meter_id", "meters.label", "meters.organization",
	"meters.host", "meters.port", "meters.vendor", "meters.timezone",
	"meters.password", "meters.password_kind",
	"meters.list1_interval", "meters.list2_interval", "meters.list3_interval", "meters.list4_interval",
	"meters.p01_interval", "meters.p02_interval",
	"meters.p98_interval", "meters.p99_interval",
	"meters.p200_interval", "meters.p210_interval", "meters.p211_interval",
	"meters.error_interval",
	"meters.p01_from", "meters.p98_from",
	"meters.connect_timeout_seconds", "meters.read_timeout_seconds", "meters.use_meter_id",
	"queries.enrich",
}

// row mirrors one joined meters/queries record before it is reshaped into
// a schema.MeterDescriptor.
type meterRow struct {
	DBID           int64        `db:"id"`
	MeterID        string       `db:"meter_id"`
	Label          string       `db:"label"`
	Organization   string       `db:"organization"`
	Host           string       `db:"host"`
	Port           int          `db:"port"`
	Vendor         string       `db:"vendor"`
	Timezone       string       `db:"timezone"`
	Password       string       `db:"password"`
	PasswordKind   string       `db:"password_kind"`
	List1          int          `db:"list1_interval"`
	List2          int          `db:"list2_interval"`
	List3          int          `db:"list3_interval"`
	List4          int          `db:"list4_interval"`
	P01            int          `db:"p01_interval"`
	P02            int          `db:"p02_interval"`
	P98            int          `db:"p98_interval"`
	P99            int          `db:"p99_interval"`
	P200           int          `db:"p200_interval"`
	P210           int          `db:"p210_interval"`
	P211           int          `db:"p211_interval"`
	Error          int          `db:"error_interval"`
	P01From        sql.NullTime `db:"p01_from"`
	P98From        sql.NullTime `db:"p98_from"`
	ConnectTimeout int          `db:"connect_timeout_seconds"`
	ReadTimeout    int          `db:"read_timeout_seconds"`
	UseMeterID     bool         `db:"use_meter_id"`
	Enrich         sql.NullBool `db:"enrich"`
}

func (row meterRow) toDescriptor() *schema.MeterDescriptor {
	m := &schema.MeterDescriptor{
		ID:           row.MeterID,
		Label:        row.Label,
		MeterID:      row.MeterID,
		Organization: row.Organization,
		Host:         row.Host,
		Port:         row.Port,
		Vendor:       schema.ParseVendorFamily(row.Vendor),
		Timezone:     row.Timezone,
		Active:       true,
		UseMeterID:   row.UseMeterID,
		Enrich:       row.Enrich.Valid && row.Enrich.Bool,
		Intervals:    map[schema.DataKind]time.Duration{},
		Watermarks:   map[schema.DataKind]time.Time{},
	}

	if row.ConnectTimeout > 0 {
		m.ConnectTimeout = time.Duration(row.ConnectTimeout) * time.Second
	}
	if row.ReadTimeout > 0 {
		m.ReadTimeout = time.Duration(row.ReadTimeout) * time.Second
	}

	if row.Password != "" {
		m.Credentials = &schema.Credentials{
			Password: row.Password,
			Kind:     schema.ParseCredentialKind(row.PasswordKind),
		}
	}

	set := func(kind schema.DataKind, seconds int) {
		if seconds > 0 {
			m.Intervals[kind] = time.Duration(seconds) * time.Second
		}
	}
	set(schema.KindList1, row.List1)
	set(schema.KindList2, row.List2)
	set(schema.KindList3, row.List3)
	set(schema.KindList4, row.List4)
	set(schema.KindP01, row.P01)
	set(schema.KindP02, row.P02)
	set(schema.KindP98, row.P98)
	set(schema.KindP99, row.P99)
	set(schema.KindP200, row.P200)
	set(schema.KindP210, row.P210)
	set(schema.KindP211, row.P211)
	set(schema.KindError, row.Error)

	if row.P01From.Valid {
		m.Watermarks[schema.KindP01] = row.P01From.Time
	}
	if row.P98From.Valid {
		m.Watermarks[schema.KindP98] = row.P98From.Time
	}

	return m
}

// Snapshot returns every active meter row, joined with its mass-query
// enrichment flag. The scheduler calls this at most once per wall-clock
// minute; callers own the local-cache
// fallback (internal/rostercache) for when the store is unreachable.
func (r *RosterRepository) Snapshot() ([]*schema.MeterDescriptor, error) {
	rows, err := sq.Select(meterColumns...).
		From("meters").
		LeftJoin("queries ON queries.meter_id_fk = meters.id").
		Where("meters.is_active = ?", true).
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	descriptors := make([]*schema.MeterDescriptor, 0, 16)
	for rows.Next() {
		var row meterRow
		if err := rows.Scan(
			&row.DBID, &row.MeterID, &row.Label, &row.Organization,
			&row.Host, &row.Port, &row.Vendor, &row.Timezone,
			&row.Password, &row.PasswordKind,
			&row.List1, &row.List2, &row.List3, &row.List4,
			&row.P01, &row.P02, &row.P98, &row.P99,
			&row.P200, &row.P210, &row.P211, &row.Error,
			&row.P01From, &row.P98From,
			&row.ConnectTimeout, &row.ReadTimeout, &row.UseMeterID, &row.Enrich,
		); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, row.toDescriptor())
	}

	return descriptors, rows.Err()
}

// SetWatermark persists the resume instant for meterID/kind. Only p01 and
// p98 carry watermarks; any other kind is a programming error in the
// caller and is rejected rather than silently ignored.
func (r *RosterRepository) SetWatermark(meterID string, kind schema.DataKind, instant time.Time) error {
	column, err := watermarkColumn(kind)
	if err != nil {
		return err
	}

	_, err = sq.Update("meters").
		Set(column, instant).
		Where("meter_id = ?", meterID).
		RunWith(r.stmtCache).Exec()
	return err
}

// ClearWatermark removes the resume instant for meterID/kind, causing the
// next poll to fall back to the 90-minute rolling window.
func (r *RosterRepository) ClearWatermark(meterID string, kind schema.DataKind) error {
	column, err := watermarkColumn(kind)
	if err != nil {
		return err
	}

	_, err = sq.Update("meters").
		Set(column, nil).
		Where("meter_id = ?", meterID).
		RunWith(r.stmtCache).Exec()
	return err
}

func watermarkColumn(kind schema.DataKind) (string, error) {
	switch kind {
	case schema.KindP01:
		return "p01_from", nil
	case schema.KindP98:
		return "p98_from", nil
	default:
		return "", errNoWatermarkField(kind)
	}
}

type errNoWatermarkField schema.DataKind

func (e errNoWatermarkField) Error() string {
	return "repository: data kind " + string(e) + " has no watermark field"
}
