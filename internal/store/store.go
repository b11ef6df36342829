package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhdmirzan/pose-estimation/internal/types"
)

// Run is the ledger entry for one server-side prediction. Fingerprint is a
// hex SHA-256 identifying the input. Result bytes are never stored.
type Run struct {
	ID          uuid.UUID
	Kind        string
	Source      string
	Name        string
	Fingerprint string
	Status      types.RunStatus
	BytesIn     int64
	BytesOut    int64
	Frames      int
	Duration    time.Duration
	Error       string
	CreatedAt   time.Time
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Nop discards runs; the server uses it when no database is configured.
type Nop struct{}

func (Nop) RecordRun(context.Context, Run) error { return nil }

// Store manages the PostgreSQL connection pool for the run ledger.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS prediction_runs (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			bytes_in BIGINT NOT NULL DEFAULT 0,
			bytes_out BIGINT NOT NULL DEFAULT 0,
			frames INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		ALTER TABLE prediction_runs ADD COLUMN IF NOT EXISTS fingerprint TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS prediction_runs_created_at_idx ON prediction_runs (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordRun inserts run, assigning an ID if it has none.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prediction_runs (id, kind, source, name, fingerprint, status, bytes_in, bytes_out, frames, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID.String(), run.Kind, run.Source, run.Name, run.Fingerprint, string(run.Status),
		run.BytesIn, run.BytesOut, run.Frames, run.Duration.Milliseconds(), run.Error)
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id::text, kind, source, name, fingerprint, status, bytes_in, bytes_out, frames, duration_ms, error, created_at
		FROM prediction_runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var (
			r      Run
			id     string
			status string
			ms     int64
		)
		if err := row.Scan(&id, &r.Kind, &r.Source, &r.Name, &r.Fingerprint, &status, &r.BytesIn, &r.BytesOut, &r.Frames, &ms, &r.Error, &r.CreatedAt); err != nil {
			return r, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return r, fmt.Errorf("run id %q: %w", id, err)
		}
		r.ID = parsed
		r.Status = types.RunStatus(status)
		r.Duration = time.Duration(ms) * time.Millisecond
		return r, nil
	})
}

// Reset drops the ledger table. It is recreated on the next connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS prediction_runs CASCADE;`)
	return err
}
