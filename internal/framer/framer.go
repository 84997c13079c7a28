// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package framer implements the IEC 62056-21 Mode C byte-level framing:
// parity stripping, control-byte handling, BCC computation and the
// Tr-timer read-quiescence loop, over a plain net.Conn standing in for
// the virtual 300-baud serial line.
package framer

import (
	"bufio"
	"context"
	"fmt"
	"math/bits"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/meterfleet/internal/protoerr"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
)

// Control bytes used by the IEC 62056-21 Mode C line discipline.
const (
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
	EOT byte = 0x04
	ACK byte = 0x06
	NAK byte = 0x15
	CR  byte = 0x0d
	LF  byte = 0x0a
)

// Terminator selects when the read loop considers a reply complete,
// besides NAK and Tr-timer quiescence which always apply.
type Terminator int

const (
	TerminatorETX Terminator = iota
	TerminatorLF
	TerminatorACK
)

// Framer owns one TCP connection for the lifetime of a session. Not
// safe for concurrent use; each session gets its own Framer and
// connection, never shared.
type Framer struct {
	conn    net.Conn
	reader  *bufio.Reader
	limiter *rate.Limiter

	trTimeout time.Duration

	lastSent []byte
}

// New wraps conn. trTimeout is the Tr quiescence deadline (a 3-4s
// default is typical, tunable); baudBytesPerSecond paces inbound reads to
// emulate the declared 300-baud line (30 bytes/sec at 7E1) even though
// TCP itself carries no physical baud — this lets tests assert on
// pacing and keeps behavior observably consistent with a real serial
// link.
func New(conn net.Conn, trTimeout time.Duration, baudBytesPerSecond int) *Framer {
	if baudBytesPerSecond <= 0 {
		baudBytesPerSecond = 30
	}
	return &Framer{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		limiter:   rate.NewLimiter(rate.Limit(baudBytesPerSecond), baudBytesPerSecond),
		trTimeout: trTimeout,
	}
}

// Bcc computes the block check character over data, which must already
// contain everything from STX through ETX inclusive.
func Bcc(data []byte) byte {
	var b byte
	for _, c := range data {
		b ^= c
	}
	return b
}

// SendRaw transmits buf verbatim (requests, ACK/option-select have no
// BCC). The buffer is remembered for retransmission on NAK.
func (f *Framer) SendRaw(ctx context.Context, buf []byte) error {
	f.lastSent = buf
	return f.write(ctx, buf)
}

// SendFramed builds SOH . cmd . STX . data . ETX . BCC and transmits it,
// computing BCC over STX..ETX inclusive, excluding SOH.
// cmd is the (possibly multi-byte, e.g. "R5", "P1", "B0") command tag.
func (f *Framer) SendFramed(ctx context.Context, cmd string, data []byte) error {
	body := make([]byte, 0, len(data)+3)
	body = append(body, STX)
	body = append(body, data...)
	body = append(body, ETX)

	buf := make([]byte, 0, len(body)+len(cmd)+2)
	buf = append(buf, SOH)
	buf = append(buf, cmd...)
	buf = append(buf, body...)
	buf = append(buf, Bcc(body))

	f.lastSent = buf
	return f.write(ctx, buf)
}

func (f *Framer) write(ctx context.Context, buf []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		f.conn.SetWriteDeadline(deadline)
	}
	if _, err := f.conn.Write(setEvenParity(buf)); err != nil {
		return protoerr.Transport("write", fmt.Errorf("%w: %s", protoerr.ErrWriteFailed, err))
	}
	return nil
}

// Retransmit resends the last buffer sent via SendRaw/SendFramed,
// satisfying the one-retransmit-on-NAK rule.
func (f *Framer) Retransmit(ctx context.Context) error {
	if f.lastSent == nil {
		return protoerr.Framing("retransmit", fmt.Errorf("nothing to retransmit"))
	}
	return f.write(ctx, f.lastSent)
}

// ReadResult is one completed read: the stripped, delimiter-free payload
// and whether it was a bare single-byte NAK.
type ReadResult struct {
	Payload []byte
	IsNak   bool
}

// Read accumulates bytes until term is satisfied or the Tr timer expires
// with no new bytes. The trailing BCC byte following ETX is always
// collected and dropped; verifyBcc controls whether it is checked. A single
// goroutine owns f.reader for the duration of the call, including the
// extra byte collected for BCC verification, so there is never more
// than one reader in flight against the connection.
func (f *Framer) Read(ctx context.Context, term Terminator, verifyBcc bool) (ReadResult, error) {
	var buf []byte
	timer := time.NewTimer(f.trTimeout)
	defer timer.Stop()

	byteCh := make(chan byte)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	defer func() {
		close(done)
		// A readLoop parked in ReadByte only sees done once that read
		// returns: expire the read deadline to release it, and wait for
		// it to exit before the next Read starts its own.
		f.conn.SetReadDeadline(time.Now())
		<-exited
		f.conn.SetReadDeadline(time.Time{})
	}()
	go func() {
		defer close(exited)
		f.readLoop(ctx, done, byteCh, errCh)
	}()

	awaitingBcc := false
	for {
		select {
		case <-ctx.Done():
			return ReadResult{}, protoerr.Transport("read", ctx.Err())
		case err := <-errCh:
			if awaitingBcc {
				if verifyBcc {
					return ReadResult{}, protoerr.Framing("bcc", fmt.Errorf("%w: %s", protoerr.ErrShortRead, err))
				}
				return ReadResult{Payload: stripDelimiters(buf)}, nil
			}
			if len(buf) == 0 {
				return ReadResult{}, protoerr.Transport("read", fmt.Errorf("%w: %s", protoerr.ErrReadTimeout, err))
			}
			return ReadResult{}, protoerr.Framing("read", fmt.Errorf("%w: connection error mid-reply: %s", protoerr.ErrShortRead, err))
		case b := <-byteCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(f.trTimeout)

			if awaitingBcc {
				if verifyBcc && b != Bcc(bccWindow(buf)) {
					return ReadResult{}, protoerr.Framing("bcc", protoerr.ErrBccMismatch)
				}
				return ReadResult{Payload: stripDelimiters(buf)}, nil
			}

			buf = append(buf, b)
			if len(buf) == 1 && buf[0] == NAK {
				return ReadResult{IsNak: true}, nil
			}
			if complete(buf, term) {
				if buf[len(buf)-1] != ETX {
					return ReadResult{Payload: stripDelimiters(buf)}, nil
				}
				// ETX-terminated replies carry one trailing BCC byte
				// after ETX; collect it before returning.
				awaitingBcc = true
			}
		case <-timer.C:
			if awaitingBcc {
				if verifyBcc {
					return ReadResult{}, protoerr.Framing("bcc", protoerr.ErrShortRead)
				}
				return ReadResult{Payload: stripDelimiters(buf)}, nil
			}
			if len(buf) == 0 {
				return ReadResult{}, protoerr.Transport("read", protoerr.ErrReadTimeout)
			}
			log.Debugf("framer: Tr timer expired after %d bytes", len(buf))
			return ReadResult{Payload: stripDelimiters(buf)}, nil
		}
	}
}

// readLoop is the sole owner of f.reader for the duration of one Read
// call; it exits as soon as done is closed, ctx is canceled, or a read
// error occurs.
func (f *Framer) readLoop(ctx context.Context, done <-chan struct{}, byteCh chan<- byte, errCh chan<- error) {
	for {
		if err := f.limiter.WaitN(ctx, 1); err != nil {
			select {
			case errCh <- err:
			case <-done:
			}
			return
		}
		b, err := f.reader.ReadByte()
		if err != nil {
			select {
			case errCh <- err:
			case <-done:
			}
			return
		}
		select {
		case byteCh <- b & 0x7f:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func complete(buf []byte, term Terminator) bool {
	last := buf[len(buf)-1]
	switch term {
	case TerminatorETX:
		return last == ETX
	case TerminatorLF:
		return last == LF
	case TerminatorACK:
		return last == ACK
	default:
		return false
	}
}

// bccWindow returns the STX..ETX (inclusive) window BCC is computed
// over.
func bccWindow(buf []byte) []byte {
	start := 0
	for i, b := range buf {
		if b == STX {
			start = i
			break
		}
	}
	return buf[start:]
}

// stripDelimiters removes SOH, STX and ETX from buf; CR/LF are kept.
func stripDelimiters(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	for _, b := range buf {
		if b == SOH || b == STX || b == ETX {
			continue
		}
		out = append(out, b)
	}
	return out
}

// setEvenParity sets bit 7 of every outbound byte so the 8 bits
// together carry even parity, matching the 7E1 line discipline;
// inbound stripping of that same bit always happens in the read loop.
func setEvenParity(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		low7 := b & 0x7f
		if bits.OnesCount8(low7)%2 != 0 {
			low7 |= 0x80
		}
		out[i] = low7
	}
	return out
}

// Close releases the underlying connection. Safe to call more than
// once.
func (f *Framer) Close() error {
	return f.conn.Close()
}
