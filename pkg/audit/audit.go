/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package audit records the fabric's structured audit trail: ECC section
// transitions, Marshall checkout/return, administrative reopen, and
// revision requests. A Trail fans each event out to one or more Sinks —
// typically a JSONL sink for local durability and an optional Postgres
// sink for queryable history (SPEC_FULL.md §4 supplement).
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one audit record.
type Event struct {
	EventID   string                 `json:"event_id"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Subject   string                 `json:"subject"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink persists an Event. Implementations must not mutate e.
type Sink interface {
	RecordEvent(ctx context.Context, e Event) error
}

// Trail fans audit events out to every configured Sink. A sink failure is
// logged, never propagated: audit durability must not block the
// operation being audited.
type Trail struct {
	log   *zap.Logger
	sinks []Sink
	now   func() time.Time
}

// New constructs a Trail over the given sinks, in the order they should be
// written.
func New(log *zap.Logger, sinks ...Sink) *Trail {
	return &Trail{log: log, sinks: sinks, now: time.Now}
}

// Record appends an audit event for actor performing action against
// subject, with optional structured detail.
func (t *Trail) Record(ctx context.Context, actor, action, subject string, detail map[string]interface{}) {
	e := Event{
		EventID:   uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Detail:    detail,
		Timestamp: t.now(),
	}
	for _, sink := range t.sinks {
		if err := sink.RecordEvent(ctx, e); err != nil {
			t.log.Error("audit sink failed",
				zap.String("action", action),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
}
