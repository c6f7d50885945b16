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

// Package postgres is the optional durable store for audit events, Section
// Record history, and Case Context history (SPEC_FULL.md §3).
// It connects via pgx's database/sql driver, wrapped in sqlx for scan
// convenience, matching the teacher's datastorage integration suite
// (`sqlx.Connect("pgx", ...)`, goose-managed migrations).
package postgres

import (
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a pooled connection to dsn using the pgx stdlib driver.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, apperrors.NewDatabaseError("connect", err)
	}
	return db, nil
}

// Migrate applies every pending goose migration embedded in this package.
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to set goose dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to apply migrations")
	}
	return nil
}
