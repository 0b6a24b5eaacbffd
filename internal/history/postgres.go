package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id          BIGSERIAL PRIMARY KEY,
	operation   TEXT        NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	success     BOOLEAN     NOT NULL,
	count       INTEGER     NOT NULL DEFAULT 0,
	error       TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON sync_runs (started_at DESC);
`

// PostgresStore is a PostgreSQL-backed run history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to databaseURL and creates the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Record inserts run.
func (s *PostgresStore) Record(ctx context.Context, run Run) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_run", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (operation, started_at, finished_at, success, count, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.Operation, run.StartedAt, run.FinishedAt, run.Success, run.Count, run.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("recent_runs", time.Since(start)) }()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, started_at, finished_at, success, count, error
		 FROM sync_runs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Operation, &r.StartedAt, &r.FinishedAt, &r.Success, &r.Count, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
