// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"bytes"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	json := []byte(`{
		"default": {
			"logfile": "/var/log/meterfleet.log",
			"severity": "info",
			"data_id": "fleet-01",
			"log_stdout": true
		},
		"db": {
			"driver": "sqlite3",
			"schema": "./var/meterfleet.db"
		},
		"scheduler": {
			"worker-pool-size": 8,
			"session-timeout-seconds": 30
		}
	}`)

	if err := Validate(Config, bytes.NewReader(json)); err != nil {
		t.Errorf("Error is not nil! %v", err)
	}
}

func TestValidateConfigMissingDB(t *testing.T) {
	json := []byte(`{"default": {"severity": "info"}}`)

	if err := Validate(Config, bytes.NewReader(json)); err == nil {
		t.Errorf("expected validation error for missing 'db' section")
	}
}
