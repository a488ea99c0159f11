// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/minigist/internal/store"
)

const (
	runsTable    = "runs"
	entriesTable = "run_entries"
)

var (
	psql       = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	runColumns = []string{
		"id", "started_at", "finished_at", "status",
		"processed", "skipped", "failed", "error_message",
	}
	entryColumns = []string{
		"run_id", "entry_id", "feed_id", "disposition", "note", "bytes", "recorded_at",
	}
)

// Schema creates the tables used by RunStore.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	processed     bigint NOT NULL DEFAULT 0,
	skipped       bigint NOT NULL DEFAULT 0,
	failed        bigint NOT NULL DEFAULT 0,
	error_message text
);
CREATE TABLE IF NOT EXISTS run_entries (
	run_id      uuid NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	entry_id    bigint NOT NULL,
	feed_id     bigint NOT NULL,
	disposition text NOT NULL,
	note        text NOT NULL DEFAULT '',
	bytes       bigint NOT NULL DEFAULT 0,
	recorded_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS run_entries_run_id_idx ON run_entries (run_id);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate creates the schema on startup.
	Migrate bool
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres and optionally applies the schema.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("runstore.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: p}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// Migrate applies Schema.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply run store schema: %w", err)
	}
	return nil
}

// StartRun inserts the run row; restarting an existing run is a no-op.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query, args, err := psql.Insert(runsTable).
		Columns("id", "started_at", "status").
		Values(runID, startedAt, string(store.RunRunning)).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build start run query: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun records the final status and totals of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	totals store.Totals,
	errMsg *string,
) error {
	query, args, err := psql.Update(runsTable).
		Set("finished_at", finishedAt).
		Set("status", string(status)).
		Set("processed", totals.Processed).
		Set("skipped", totals.Skipped).
		Set("failed", totals.Failed).
		Set("error_message", errMsg).
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete run query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordEntries inserts entry dispositions in a single statement.
func (s *RunStore) RecordEntries(ctx context.Context, results []store.EntryResult) error {
	if len(results) == 0 {
		return nil
	}
	builder := psql.Insert(entriesTable).Columns(entryColumns...)
	for _, r := range results {
		builder = builder.Values(r.RunID, r.EntryID, r.FeedID, r.Disposition, r.Note, r.Bytes, r.At)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build record entries query: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record entries: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query, args, err := psql.Select(runColumns...).
		From(runsTable).
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return store.Run{}, fmt.Errorf("build get run query: %w", err)
	}
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	builder := psql.Select(runColumns...).
		From(runsTable).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if status != nil {
		builder = builder.Where(sq.Eq{"status": string(*status)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunEntries returns the entry dispositions recorded for a run.
func (s *RunStore) ListRunEntries(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.EntryResult, error) {
	query, args, err := psql.Select(entryColumns...).
		From(entriesTable).
		Where(sq.Eq{"run_id": runID}).
		OrderBy("recorded_at ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list run entries query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run entries: %w", err)
	}
	defer rows.Close()

	var results []store.EntryResult
	for rows.Next() {
		var (
			r     store.EntryResult
			rawID string
		)
		if err := rows.Scan(&rawID, &r.EntryID, &r.FeedID, &r.Disposition, &r.Note, &r.Bytes, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan run entry row: %w", err)
		}
		if r.RunID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run entries: %w", err)
	}
	return results, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		id     string
		status string
	)
	err := row.Scan(
		&id,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Totals.Processed,
		&run.Totals.Skipped,
		&run.Totals.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return store.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
