package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/querybridge/querybridge/internal/history"
)

var entryRowColumns = []string{"query_id", "identity", "question", "statement", "status", "error_kind", "row_count", "dropped_rows", "duration_ms", "export_key", "created_at"}

func TestRecordInsertsEntry(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO query_history (`+entryColumns+`)`)).
		WithArgs("q-1", "jdoe", "How many customers?", "SELECT COUNT(*) FROM customers;", "succeeded", "", 1, 0, int64(1500), "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), history.Entry{
		QueryID:   "q-1",
		Identity:  "jdoe",
		Question:  "How many customers?",
		Statement: "SELECT COUNT(*) FROM customers;",
		Status:    history.StatusSucceeded,
		RowCount:  1,
		Duration:  1500 * time.Millisecond,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordRequiresQueryID(t *testing.T) {
	db, mock := newSQLMock(t)
	if err := NewRepository(db).Record(context.Background(), history.Entry{}); err == nil {
		t.Fatal("expected error for missing query id")
	}
	assertSQLMock(t, mock)
}

func TestListFiltersByIdentityAndClampsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM query_history\s+WHERE identity = \$1\s+ORDER BY created_at DESC\s+LIMIT \$2`).
		WithArgs("jdoe", history.MaxListLimit).
		WillReturnRows(sqlmock.NewRows(entryRowColumns).
			AddRow("q-2", "jdoe", "second", "SELECT 2;", "failed", "AUTHENTICATION_FAILED", 0, 0, int64(20), "", now).
			AddRow("q-1", "jdoe", "first", "SELECT 1;", "succeeded", "", 3, 1, int64(10), "exports/jdoe/q-1.parquet", now.Add(-time.Minute)))

	entries, err := repo.List(context.Background(), history.ListFilter{Identity: "jdoe", Limit: 10_000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d", len(entries))
	}
	if entries[0].Status != history.StatusFailed || entries[0].ErrorKind != "AUTHENTICATION_FAILED" {
		t.Fatalf("entries[0] = %#v", entries[0])
	}
	if entries[1].Duration != 10*time.Millisecond || entries[1].DroppedRows != 1 {
		t.Fatalf("entries[1] = %#v", entries[1])
	}
	assertSQLMock(t, mock)
}

func TestListWithoutIdentityUsesDefaultLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(`FROM query_history\s+ORDER BY created_at DESC\s+LIMIT \$1`).
		WithArgs(history.DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(entryRowColumns))

	entries, err := NewRepository(db).List(context.Background(), history.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("entries = %#v, want empty non-nil slice", entries)
	}
	assertSQLMock(t, mock)
}

func TestGetReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(`WHERE query_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := NewRepository(db).Get(context.Background(), "missing")
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
