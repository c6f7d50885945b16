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
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// SectionHistoryRecord is one row of the section_history table: a durable
// record of an ECC state transition, independent of the in-memory
// Controller's current snapshot.
type SectionHistoryRecord struct {
	ID             int64     `db:"id"`
	SectionID      string    `db:"section_id"`
	FromState      string    `db:"from_state"`
	ToState        string    `db:"to_state"`
	RevisionDepth  int       `db:"revision_depth"`
	TransitionedAt time.Time `db:"transitioned_at"`
	CreatedAt      time.Time `db:"created_at"`
}

// SectionHistoryRepository persists and queries ECC transition history.
type SectionHistoryRepository struct {
	db *sqlx.DB
}

// NewSectionHistoryRepository wraps db.
func NewSectionHistoryRepository(db *sqlx.DB) *SectionHistoryRepository {
	return &SectionHistoryRepository{db: db}
}

// RecordTransition inserts one section_history row.
func (r *SectionHistoryRepository) RecordTransition(ctx context.Context, sectionID, fromState, toState string, revisionDepth int, at time.Time) error {
	const q = `INSERT INTO section_history (section_id, from_state, to_state, revision_depth, transitioned_at)
	           VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, q, sectionID, fromState, toState, revisionDepth, at); err != nil {
		return apperrors.NewDatabaseError("insert section_history", err)
	}
	return nil
}

// History returns sectionID's transition history, oldest first.
func (r *SectionHistoryRepository) History(ctx context.Context, sectionID string) ([]SectionHistoryRecord, error) {
	const q = `SELECT id, section_id, from_state, to_state, revision_depth, transitioned_at, created_at
	           FROM section_history WHERE section_id = $1 ORDER BY transitioned_at ASC`
	var out []SectionHistoryRecord
	if err := r.db.SelectContext(ctx, &out, q, sectionID); err != nil {
		return nil, apperrors.NewDatabaseError("select section_history", err)
	}
	return out, nil
}
