// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
)

// Hooks satisfies the sqlhook.Hooks interface, timing every query this
// repository issues against the roster/data store.
type Hooks struct{}

// hookKey namespaces values Hooks stashes on the query context, keeping
// them out of collision range with keys any other package might use.
type hookKey int

const beginKey hookKey = iota

// Before hook will print the query with it's args and return the context with the timestamp
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

// After hook will get the timestamp registered on the Before hook and print the elapsed time
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin := ctx.Value(beginKey).(time.Time)
	log.Debugf("Took: %s\n", time.Since(begin))
	return ctx, nil
}
