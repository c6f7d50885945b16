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

package postgres

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/caseforge/coordfab/internal/errors"
	"github.com/caseforge/coordfab/pkg/audit"
)

// AuditSink persists audit.Event records to the audit_events table,
// satisfying audit.Sink. A second insert of the same event_id is ignored
// (ON CONFLICT (event_id) DO NOTHING).
type AuditSink struct {
	db *sqlx.DB
}

// NewAuditSink wraps db as an audit.Sink.
func NewAuditSink(db *sqlx.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) RecordEvent(ctx context.Context, e audit.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to marshal audit detail")
	}

	const q = `INSERT INTO audit_events (event_id, actor, action, subject, detail, occurred_at)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           ON CONFLICT (event_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, e.EventID, e.Actor, e.Action, e.Subject, detail, e.Timestamp); err != nil {
		return apperrors.NewDatabaseError("insert audit_events", err)
	}
	return nil
}
