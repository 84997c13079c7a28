// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package framer

import (
	"context"
	"math/bits"
	"net"
	"testing"
	"time"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
)

func pipe(t *testing.T) (*Framer, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return New(client, 200*time.Millisecond, 100000), server
}

func TestBccComputation(t *testing.T) {
	// STX "P.01(...)" ETX
	data := []byte{STX, 'A', 'B', ETX}
	got := Bcc(data)
	want := byte(STX) ^ 'A' ^ 'B' ^ byte(ETX)
	if got != want {
		t.Errorf("Bcc = %#x, want %#x", got, want)
	}
}

func TestSendFramedRoundTrip(t *testing.T) {
	f, server := pipe(t)
	defer f.Close()

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.SendFramed(ctx, "R5", []byte("P.01(0YYMMDDhhmm;)"))
	}()

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	got := buf[:n]
	data := make([]byte, len(got))
	for i, b := range got {
		data[i] = b & 0x7f
	}

	if data[0] != SOH || data[1] != 'R' || data[2] != '5' || data[3] != STX {
		t.Fatalf("unexpected frame header: %v", data)
	}
	if data[len(data)-2] != ETX {
		t.Fatalf("expected ETX before BCC, got %v", data)
	}
	wantBcc := Bcc(data[3 : len(data)-1])
	if data[len(data)-1] != wantBcc {
		t.Errorf("bcc = %#x, want %#x", data[len(data)-1], wantBcc)
	}
}

func TestSendRawSetsEvenParityOnEveryByte(t *testing.T) {
	f, server := pipe(t)
	defer f.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- f.SendRaw(context.Background(), []byte("/?!\r\n")) }()

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	for _, b := range buf[:n] {
		wantHighBit := bits.OnesCount8(b&0x7f)%2 != 0
		gotHighBit := b&0x80 != 0
		if gotHighBit != wantHighBit {
			t.Errorf("byte %#x: high bit = %v, want even parity %v", b, gotHighBit, wantHighBit)
		}
	}
}

func TestReadStripsDelimitersAndVerifiesBcc(t *testing.T) {
	f, server := pipe(t)
	defer f.Close()

	body := []byte{STX, '1', '.', '8', '.', '0', '(', '1', '2', '3', ')', ETX}
	frame := append(append([]byte{}, body...), Bcc(body))

	go server.Write(frame)

	res, err := f.Read(context.Background(), TerminatorETX, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Payload) != "1.8.0(123)" {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestReadDetectsBccMismatch(t *testing.T) {
	f, server := pipe(t)
	defer f.Close()

	body := []byte{STX, 'X', ETX}
	frame := append(append([]byte{}, body...), Bcc(body)^0xff)

	go server.Write(frame)

	_, err := f.Read(context.Background(), TerminatorETX, true)
	if !protoerr.Is(err, protoerr.CategoryFraming) {
		t.Fatalf("expected a framing error, got %v", err)
	}
}

func TestReadSingleByteNakCompletesImmediately(t *testing.T) {
	f, server := pipe(t)
	defer f.Close()

	go server.Write([]byte{NAK})

	res, err := f.Read(context.Background(), TerminatorETX, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsNak {
		t.Error("expected IsNak to be true")
	}
}

func TestReadZeroBytesAtTrExpiryIsHardError(t *testing.T) {
	f, _ := pipe(t)
	defer f.Close()

	_, err := f.Read(context.Background(), TerminatorETX, false)
	if !protoerr.Is(err, protoerr.CategoryTransport) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}
