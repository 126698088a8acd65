package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Each answered question writes one history row and the remote session runs
// one question at a time, so the pool only needs room for that insert plus a
// few concurrent history reads.
const (
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxIdleTime = 5 * time.Minute
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open connects through the pgx stdlib driver and checks that the
// query_history table has been migrated.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("query history dsn is required (QUERYBRIDGE_HISTORY_DSN)")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open query history db: %w", err)
	}
	applyPool(db, cfg)

	if err := verify(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func verify(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping query history db: %w", err)
	}

	var migrated bool
	if err := db.QueryRowContext(pingCtx, `SELECT to_regclass('query_history') IS NOT NULL`).Scan(&migrated); err != nil {
		return fmt.Errorf("look up query_history table: %w", err)
	}
	if !migrated {
		return fmt.Errorf("query_history table is missing; run querybridge-migrate up")
	}
	return nil
}

func applyPool(db *sql.DB, cfg DBConfig) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = defaultConnMaxIdleTime
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
