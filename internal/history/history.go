// Package history keeps an audit trail of answered questions. Secrets are
// never part of an entry.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("history: not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Entry struct {
	QueryID     string        `json:"query_id"`
	Identity    string        `json:"identity"`
	Question    string        `json:"question"`
	Statement   string        `json:"statement,omitempty"`
	Status      Status        `json:"status"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	RowCount    int           `json:"row_count"`
	DroppedRows int           `json:"dropped_rows"`
	Duration    time.Duration `json:"-"`
	ExportKey   string        `json:"export_key,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// DurationMillis is the JSON form of Duration.
func (e Entry) DurationMillis() int64 {
	return e.Duration.Milliseconds()
}

type ListFilter struct {
	// Identity restricts results to one account when set.
	Identity string
	Limit    int
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Store interface {
	Recorder
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
	Get(ctx context.Context, queryID string) (Entry, error)
}

// ClampLimit maps non-positive limits to the default and caps large ones.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
