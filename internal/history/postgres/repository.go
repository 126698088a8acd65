package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querybridge/querybridge/internal/history"
)

const entryColumns = `query_id, identity, question, statement, status, error_kind, row_count, dropped_rows, duration_ms, export_key, created_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) error {
	if strings.TrimSpace(entry.QueryID) == "" {
		return fmt.Errorf("query id is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_history (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (query_id) DO NOTHING`,
		entry.QueryID,
		entry.Identity,
		entry.Question,
		entry.Statement,
		string(entry.Status),
		entry.ErrorKind,
		entry.RowCount,
		entry.DroppedRows,
		entry.Duration.Milliseconds(),
		entry.ExportKey,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("record query %s: %w", entry.QueryID, err)
	}
	return nil
}

// List returns the newest entries first.
func (r *Repository) List(ctx context.Context, filter history.ListFilter) ([]history.Entry, error) {
	limit := history.ClampLimit(filter.Limit)
	var (
		rows *sql.Rows
		err  error
	)
	if identity := strings.TrimSpace(filter.Identity); identity != "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM query_history
WHERE identity = $1
ORDER BY created_at DESC
LIMIT $2`, identity, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM query_history
ORDER BY created_at DESC
LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history rows: %w", err)
	}
	return entries, nil
}

func (r *Repository) Get(ctx context.Context, queryID string) (history.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM query_history
WHERE query_id = $1`, queryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Entry{}, history.ErrNotFound
		}
		return history.Entry{}, fmt.Errorf("get query %s: %w", queryID, err)
	}
	return entry, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (history.Entry, error) {
	var (
		entry      history.Entry
		status     string
		durationMS int64
	)
	if err := row.Scan(
		&entry.QueryID,
		&entry.Identity,
		&entry.Question,
		&entry.Statement,
		&status,
		&entry.ErrorKind,
		&entry.RowCount,
		&entry.DroppedRows,
		&durationMS,
		&entry.ExportKey,
		&entry.CreatedAt,
	); err != nil {
		return history.Entry{}, err
	}
	entry.Status = history.Status(status)
	entry.Duration = time.Duration(durationMS) * time.Millisecond
	return entry, nil
}
