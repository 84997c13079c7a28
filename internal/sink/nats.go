// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sink

import (
	"encoding/json"
	"fmt"

	"github.com/ClusterCockpit/meterfleet/pkg/log"
	"github.com/ClusterCockpit/meterfleet/pkg/nats"
	"github.com/ClusterCockpit/meterfleet/pkg/schema"
)

// NatsSink publishes each batch as a JSON message on a
// per-organization subject, for downstream consumers that want to
// react to a poll as it happens rather than query a store afterwards.
type NatsSink struct {
	client        *nats.Client
	subjectPrefix string
}

// NewNatsSink wraps client, publishing under "<subjectPrefix>.<org>".
func NewNatsSink(client *nats.Client, subjectPrefix string) *NatsSink {
	return &NatsSink{client: client, subjectPrefix: subjectPrefix}
}

type natsMessage struct {
	Key     schema.SinkKey   `json:"key"`
	Records []schema.Record `json:"records"`
}

func (s *NatsSink) Insert(key schema.SinkKey, records []schema.Record) bool {
	buf, err := json.Marshal(natsMessage{Key: key, Records: records})
	if err != nil {
		log.Errorf("sink: nats: marshal %s: %s", key, err.Error())
		return false
	}

	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, key.Organization)
	if err := s.client.Publish(subject, buf); err != nil {
		log.Errorf("sink: nats: publish to %s: %s", subject, err.Error())
		return false
	}
	return true
}
