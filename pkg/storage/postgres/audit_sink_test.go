package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/caseforge/coordfab/pkg/audit"
)

var _ = Describe("AuditSink", func() {
	var (
		sink   *AuditSink
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		sink = NewAuditSink(sqlx.NewDb(mockDB, "sqlmock"))
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	It("inserts the event with its marshaled detail", func() {
		e := audit.Event{
			EventID:   "evt-1",
			Actor:     "2-1",
			Action:    "section.transition",
			Subject:   "section-3",
			Detail:    map[string]interface{}{"from": "EXECUTING", "to": "COMPLETED"},
			Timestamp: time.Now(),
		}

		mock.ExpectExec(`INSERT INTO audit_events`).
			WithArgs(e.EventID, e.Actor, e.Action, e.Subject, sqlmock.AnyArg(), e.Timestamp).
			WillReturnResult(sqlmock.NewResult(1, 1))

		Expect(sink.RecordEvent(ctx, e)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("wraps a database error", func() {
		e := audit.Event{EventID: "evt-2", Actor: "5-2", Action: "marshall.checkout", Subject: "E1", Timestamp: time.Now()}

		mock.ExpectExec(`INSERT INTO audit_events`).
			WithArgs(e.EventID, e.Actor, e.Action, e.Subject, sqlmock.AnyArg(), e.Timestamp).
			WillReturnError(sql.ErrConnDone)

		Expect(sink.RecordEvent(ctx, e)).To(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
