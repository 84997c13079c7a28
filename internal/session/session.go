// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session implements the IEC 62056-21 Mode C state machine for
// one meter and one data kind: request, identification, option-select,
// optional password authentication, command issuance and sign-off,
// driving an internal/framer.Framer over a dialed TCP connection.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/framer"
	"github.com/ClusterCockpit/meterfleet/internal/parser"
	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/internal/tzdb"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// State names one point in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateIdentified
	StateModeSelected
	StateAuthenticated
	StateIssuing
	StateReading
	StateSignedOff
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateIdentified:
		return "identified"
	case StateModeSelected:
		return "mode_selected"
	case StateAuthenticated:
		return "authenticated"
	case StateIssuing:
		return "issuing"
	case StateReading:
		return "reading"
	case StateSignedOff:
		return "signed_off"
	default:
		return "failed"
	}
}

// MaxWindow bounds how far back an unwatermarked or stale-watermarked
// poll is allowed to reach, per the resolved rolling-window policy:
// from = max(watermark, now - MaxWindow).
const MaxWindow = 90 * time.Minute

// baudDigit is the literal baud-stage digit the option-select
// message always carries; the transport is TCP regardless, so this
// never changes socket parameters.
const baudDigit = '5'

// Result is what a successful session hands back to its caller: the
// records produced and the instant they should be watermarked against.
type Result struct {
	Records    []schema.Record
	Dispatched time.Time
}

// dial is overridable in tests.
var dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Run drives one complete Mode C exchange for meter/kind and returns the
// records parsed from the reply. now is the dispatch wall-clock instant;
// it becomes Result.Dispatched and anchors the 90-minute window floor.
// On any failure, no partial records are returned: a session that
// reaches Failed never yields records.
func Run(ctx context.Context, meter *schema.MeterDescriptor, kind schema.DataKind, now time.Time) (Result, error) {
	s := &session{meter: meter, kind: kind, now: now, state: StateIdle}
	records, err := s.run(ctx)
	if err != nil {
		s.state = StateFailed
		return Result{}, err
	}
	return Result{Records: records, Dispatched: now}, nil
}

type session struct {
	meter *schema.MeterDescriptor
	kind  schema.DataKind
	now   time.Time
	state State

	f *framer.Framer
}

func (s *session) run(ctx context.Context) ([]schema.Record, error) {
	s.state = StateOpening
	addr := fmt.Sprintf("%s:%d", s.meter.Host, s.meter.Port)
	conn, err := dial(ctx, addr, s.meter.ConnectTimeout)
	if err != nil {
		return nil, protoerr.Transport("dial", fmt.Errorf("%w: %s", protoerr.ErrConnectFailed, err))
	}
	s.f = framer.New(conn, s.meter.ReadTimeout, 0)
	defer s.f.Close()

	ident, err := s.identify(ctx)
	if err != nil {
		return nil, err
	}
	log.Debugf("session: meter %s identified as %q", s.meter.MeterID, ident)
	s.state = StateIdentified

	readoutBody, err := s.selectMode(ctx)
	if err != nil {
		return nil, err
	}
	s.state = StateModeSelected

	if programmingMode(s.kind) {
		if s.meter.Credentials != nil {
			if err := s.authenticate(ctx); err != nil {
				return nil, err
			}
			s.state = StateAuthenticated
		}

		s.state = StateIssuing
		body, err := s.issueCommand(ctx)
		if err != nil {
			return nil, err
		}
		s.state = StateReading
		s.signOff(ctx)
		return s.parse(body)
	}

	s.state = StateReading
	s.signOff(ctx)
	return s.parse(readoutBody)
}

// identify sends the request line and validates the reply against the
// identification checks.
func (s *session) identify(ctx context.Context) (string, error) {
	req := []byte(requestLine(s.kind, s.meter.MeterID, s.meter.UseMeterID))
	res, err := s.sendAndRead(ctx, func() error { return s.f.SendRaw(ctx, req) }, framer.TerminatorLF, false)
	if err != nil {
		return "", err
	}
	if err := checkPeerEnded(res.Payload); err != nil {
		return "", err
	}
	if len(res.Payload) < 14 {
		return "", protoerr.Protocol("identification", protoerr.ErrMalformedIdentification)
	}
	return string(res.Payload), nil
}

// requestLine builds the opening request for kind: list1 (and every
// programming-mode kind, which shares the same identification step)
// uses the "?" wildcard form, including the meter's identifier only if
// useMeterID prefers it; list2..4 address their numbered table directly
// and always carry the identifier.
func requestLine(kind schema.DataKind, meterID string, useMeterID bool) string {
	switch kind {
	case schema.KindList2:
		return "/2" + meterID + "!\r\n"
	case schema.KindList3:
		return "/3" + meterID + "!\r\n"
	case schema.KindList4:
		return "/4" + meterID + "!\r\n"
	default:
		if !useMeterID {
			return "/?!\r\n"
		}
		return "/?" + meterID + "!\r\n"
	}
}

// selectMode sends the option-select message and, for readout-mode
// kinds, returns the dataset the meter streams immediately afterward.
// For programming-mode kinds it returns the SOH P0 STX (serial) ETX BCC
// acknowledgement body, which the caller does not use.
func (s *session) selectMode(ctx context.Context) ([]byte, error) {
	modeDigit := byte('0')
	if programmingMode(s.kind) {
		modeDigit = '1'
	}
	msg := []byte{framer.ACK, '0', baudDigit, modeDigit, framer.CR, framer.LF}

	res, err := s.sendAndRead(ctx, func() error { return s.f.SendRaw(ctx, msg) }, framer.TerminatorETX, true)
	if err != nil {
		return nil, err
	}
	if err := checkPeerEnded(res.Payload); err != nil {
		return nil, err
	}
	if bytes.Contains(res.Payload, []byte("(ERROR")) {
		return nil, protoerr.MeterError(string(res.Payload))
	}
	return res.Payload, nil
}

// authenticate runs the optional P1/P2 password exchange. Policy: on
// NAK, retransmit once then fail; on B0, AuthRejected; on anything but
// a bare ACK, AuthUnexpected; at most two sends in all (the original
// and one retransmit).
func (s *session) authenticate(ctx context.Context) error {
	cmd := "P1"
	if s.meter.Credentials.Kind == schema.CredentialManufacturer {
		cmd = "P2"
	}
	data := []byte(s.meter.Credentials.Password)

	res, err := s.sendAndRead(ctx, func() error { return s.f.SendFramed(ctx, cmd, data) }, framer.TerminatorACK, false)
	if err != nil {
		return err
	}
	if err := checkPeerEnded(res.Payload); err != nil {
		return protoerr.Protocol("authenticate", protoerr.ErrAuthRejected)
	}
	if !isAck(res.Payload) {
		return protoerr.Protocol("authenticate", protoerr.ErrAuthUnexpected)
	}
	return nil
}

// issueCommand sends the R5 command for s.kind and returns the raw
// reply body.
func (s *session) issueCommand(ctx context.Context) ([]byte, error) {
	tag := commandTag(s.kind)
	if tag == "" {
		return nil, protoerr.Protocol("command", fmt.Errorf("kind %s has no programming-mode command", s.kind))
	}

	loc, err := tzdb.Lookup(s.meter.Timezone)
	if err != nil {
		return nil, err
	}
	from := fromBound(s.meter, s.kind, s.now)
	data := []byte(fmt.Sprintf("%s(%s;)", tag, renderWindow(from, loc)))

	res, err := s.sendAndRead(ctx, func() error { return s.f.SendFramed(ctx, "R5", data) }, framer.TerminatorETX, true)
	if err != nil {
		return nil, err
	}
	if err := checkPeerEnded(res.Payload); err != nil {
		return nil, err
	}
	if bytes.Contains(res.Payload, []byte("(ERROR")) {
		return nil, protoerr.MeterError(string(res.Payload))
	}
	return res.Payload, nil
}

// signOff sends the standard SOH B0 ETX BCC close. A session that
// already has a body is successful even if sign-off itself fails or is
// skipped by the peer, so errors here are logged, not fatal.
func (s *session) signOff(ctx context.Context) {
	body := []byte{'B', '0', framer.ETX}
	frame := append([]byte{framer.SOH}, body...)
	frame = append(frame, framer.Bcc(body))
	if err := s.f.SendRaw(ctx, frame); err != nil {
		log.Debugf("session: meter %s: sign-off send failed: %s", s.meter.MeterID, err)
		return
	}
	if _, err := s.f.Read(ctx, framer.TerminatorETX, false); err != nil {
		log.Debugf("session: meter %s: sign-off reply: %s", s.meter.MeterID, err)
	}
	s.state = StateSignedOff
}

func (s *session) parse(body []byte) ([]schema.Record, error) {
	return parser.Parse(s.kind, s.meter, string(body), s.now)
}

// sendAndRead sends via send, reads the reply, and applies the
// one-retransmit-then-fail policy that covers both NAK replies and
// recoverable framing errors.
func (s *session) sendAndRead(ctx context.Context, send func() error, term framer.Terminator, verifyBcc bool) (framer.ReadResult, error) {
	if err := send(); err != nil {
		return framer.ReadResult{}, err
	}
	res, err := s.f.Read(ctx, term, verifyBcc)
	if err == nil && !res.IsNak {
		return res, nil
	}
	if err != nil && !protoerr.Is(err, protoerr.CategoryFraming) {
		return framer.ReadResult{}, err
	}

	log.Debugf("session: meter %s: retransmitting after %v", s.meter.MeterID, firstNonNil(err, protoerr.ErrRemoteNak))
	if err := s.f.Retransmit(ctx); err != nil {
		return framer.ReadResult{}, err
	}
	res, err = s.f.Read(ctx, term, verifyBcc)
	if err != nil {
		return framer.ReadResult{}, err
	}
	if res.IsNak {
		return framer.ReadResult{}, protoerr.Framing("retransmit", protoerr.ErrRemoteNak)
	}
	return res, nil
}

func firstNonNil(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

func checkPeerEnded(payload []byte) error {
	if bytes.Contains(payload, []byte("B0")) {
		return protoerr.Protocol("peer-ended", protoerr.ErrPeerEnded)
	}
	return nil
}

func isAck(payload []byte) bool {
	return len(payload) == 1 && payload[0] == framer.ACK
}

// programmingMode reports whether kind is issued via programming mode
// (password-gated R5 commands) rather than the default readout stream.
func programmingMode(kind schema.DataKind) bool {
	switch kind {
	case schema.KindP01, schema.KindP02, schema.KindP98, schema.KindP99,
		schema.KindP200, schema.KindP210, schema.KindP211:
		return true
	default:
		return false
	}
}

func commandTag(kind schema.DataKind) string {
	switch kind {
	case schema.KindP01:
		return "P.01"
	case schema.KindP02:
		return "P.02"
	case schema.KindP98:
		return "P.98"
	case schema.KindP99:
		return "P.99"
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

// fromBound resolves the time-window floor for kind: the stored
// watermark if present and no older than MaxWindow, otherwise the
// MaxWindow floor itself (from = max(watermark, now - MaxWindow)).
func fromBound(meter *schema.MeterDescriptor, kind schema.DataKind, now time.Time) time.Time {
	floor := now.Add(-MaxWindow)
	if !kind.HasWatermark() {
		return floor
	}
	wm, ok := meter.Watermark(kind)
	if !ok || wm.Before(floor) {
		return floor
	}
	return wm
}

// renderWindow formats t in loc as the literal "0YYMMDDhhmm" field the
// command payload requires.
func renderWindow(t time.Time, loc *time.Location) string {
	return "0" + t.In(loc).Format("0601021504")
}
