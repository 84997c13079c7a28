// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package housekeeping

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunsRegisteredJobs(t *testing.T) {
	var reloads int32

	err := Start(Config{
		ReloadConfig: func() { atomic.AddInt32(&reloads, 1) },
		ReloadEvery:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(Shutdown)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&reloads) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected the reload job to have fired at least once, got reloads=%d",
		atomic.LoadInt32(&reloads))
}

func TestStartSkipsUnconfiguredJobs(t *testing.T) {
	err := Start(Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(Shutdown)
}

func TestShutdownBeforeStartIsSafe(t *testing.T) {
	s = nil
	Shutdown()
}
