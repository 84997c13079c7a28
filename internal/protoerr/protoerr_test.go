// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package protoerr

import "testing"

func TestIsMatchesCategory(t *testing.T) {
	err := Framing("bcc", ErrBccMismatch)

	if !Is(err, CategoryFraming) {
		t.Error("expected CategoryFraming to match")
	}
	if Is(err, CategoryProtocol) {
		t.Error("did not expect CategoryProtocol to match")
	}
}

func TestFatalOnlyForConfig(t *testing.T) {
	if !Fatal(Config("load", ErrBadConfig)) {
		t.Error("expected config errors to be fatal")
	}
	if Fatal(Protocol("identification", ErrMalformedIdentification)) {
		t.Error("protocol errors must never be fatal")
	}
	if Fatal(Sink("insert", ErrSinkUnavailable)) {
		t.Error("sink errors must never be fatal")
	}
}

func TestUnwrapReachesSentinel(t *testing.T) {
	err := Transport("dial", ErrConnectFailed)
	if !Is(err, CategoryTransport) {
		t.Error("expected transport category")
	}

	var e *Error
	if !asError(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Err != ErrConnectFailed {
		t.Error("expected wrapped sentinel to be preserved")
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
