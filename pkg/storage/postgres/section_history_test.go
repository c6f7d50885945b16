package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SectionHistoryRepository", func() {
	var (
		repo   *SectionHistoryRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		repo = NewSectionHistoryRepository(sqlx.NewDb(mockDB, "sqlmock"))
		ctx = context.Background()
		now = time.Now()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("RecordTransition", func() {
		It("inserts one row per transition", func() {
			mock.ExpectExec(`INSERT INTO section_history`).
				WithArgs("section-3", "EXECUTING", "COMPLETED", 0, now).
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := repo.RecordTransition(ctx, "section-3", "EXECUTING", "COMPLETED", 0, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("History", func() {
		It("returns rows ordered oldest first", func() {
			rows := sqlmock.NewRows([]string{"id", "section_id", "from_state", "to_state", "revision_depth", "transitioned_at", "created_at"}).
				AddRow(1, "section-3", "IDLE", "PREPARING", 0, now, now).
				AddRow(2, "section-3", "PREPARING", "EXECUTING", 0, now.Add(time.Second), now.Add(time.Second))

			mock.ExpectQuery(`SELECT (.+) FROM section_history WHERE section_id = \$1`).
				WithArgs("section-3").
				WillReturnRows(rows)

			history, err := repo.History(ctx, "section-3")
			Expect(err).ToNot(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ToState).To(Equal("PREPARING"))
			Expect(history[1].ToState).To(Equal("EXECUTING"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
