// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package protoerr defines the error taxonomy shared by the framer,
// session, parser and sink layers so the supervisor can decide, by
// category alone, whether a fault is meter-local (log and move on) or
// fatal to the process.
package protoerr

import (
	"errors"
	"fmt"
)

// Category groups errors by how the supervisor must react to them.
type Category int

const (
	CategoryTransport Category = iota
	CategoryFraming
	CategoryProtocol
	CategoryParse
	CategorySink
	CategoryConfig
)

func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryFraming:
		return "framing"
	case CategoryProtocol:
		return "protocol"
	case CategoryParse:
		return "parse"
	case CategorySink:
		return "sink"
	case CategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a categorized, optionally-wrapped session or startup fault.
type Error struct {
	Category Category
	Op       string // short identifier, e.g. "identification", "bcc"
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(cat Category, op string, err error) *Error {
	return &Error{Category: cat, Op: op, Err: err}
}

// Transport-level sentinels.
var (
	ErrConnectFailed = errors.New("connect failed")
	ErrReadTimeout   = errors.New("read timeout")
	ErrWriteFailed   = errors.New("write failed")
	ErrPeerClosed    = errors.New("peer closed connection")
)

func Transport(op string, err error) *Error { return newErr(CategoryTransport, op, err) }

// Framing-level sentinels. Recoverable at most once by retransmit.
var (
	ErrShortRead    = errors.New("short read")
	ErrBccMismatch  = errors.New("bcc mismatch")
	ErrRemoteNak    = errors.New("remote sent NAK")
)

func Framing(op string, err error) *Error { return newErr(CategoryFraming, op, err) }

// Protocol-level sentinels. Fail the session, never the process.
var (
	ErrMalformedIdentification = errors.New("malformed identification")
	ErrPeerEnded                = errors.New("peer ended session (B0)")
	ErrAuthRejected             = errors.New("authentication rejected")
	ErrAuthUnexpected           = errors.New("unexpected reply to authentication")
)

// MeterError wraps the body of a reply in which the meter answered with
// an (ERROR...) data set.
func MeterError(body string) *Error {
	return newErr(CategoryProtocol, "meter-error", errors.New(body))
}

func Protocol(op string, err error) *Error { return newErr(CategoryProtocol, op, err) }

// Parse-level sentinels. A returned parse error fails that one reply,
// never the process; the list and profile grammars drop a malformed
// line or cell and keep going instead of returning one.
var (
	ErrUnknownKind      = errors.New("unknown data kind")
	ErrUnsupportedCount  = errors.New("unsupported field count")
	ErrUnknownTimezone  = errors.New("unknown timezone")
	ErrMalformedRow     = errors.New("malformed row")
)

func Parse(op string, err error) *Error { return newErr(CategoryParse, op, err) }

// Sink-level sentinels. Leave watermarks unchanged on failure.
var (
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrSinkRejected    = errors.New("sink rejected batch")
)

func Sink(op string, err error) *Error { return newErr(CategorySink, op, err) }

// Config-level sentinels. Fatal at startup unless a roster cache exists.
var (
	ErrBadConfig         = errors.New("bad configuration")
	ErrRosterUnavailable = errors.New("roster source unavailable")
)

func Config(op string, err error) *Error { return newErr(CategoryConfig, op, err) }

// Is reports whether err (or any error it wraps) belongs to cat.
func Is(err error, cat Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}

// Fatal reports whether err should terminate the process outright: a bad
// configuration, or a roster source that is unavailable with no fallback
// cache to fall back to (the caller determines cache presence and only
// wraps with ErrRosterUnavailable when none was found).
func Fatal(err error) bool {
	return Is(err, CategoryConfig)
}
