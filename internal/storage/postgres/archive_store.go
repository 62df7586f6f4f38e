// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redarc/redarc/internal/store"
)

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArchiveStore implements store.ArchiveRepository using Postgres.
type ArchiveStore struct {
	pool dbPool
}

// NewArchiveStore connects a pgx pool for the provided DSN.
func NewArchiveStore(ctx context.Context, dsn string) (*ArchiveStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArchiveStore{pool: pool}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewArchiveStoreWithPool(pool dbPool) (*ArchiveStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArchiveStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// BeginRun inserts the run as running; re-inserting the same run is a no-op.
func (s *ArchiveStore) BeginRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, issueCount int) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status, issue_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning, issueCount); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with the provided status.
func (s *ArchiveStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// RecordOutcome upserts the terminal verdict for one issue of a run.
func (s *ArchiveStore) RecordOutcome(ctx context.Context, outcome store.IssueOutcome) error {
	if outcome.IssueID == "" {
		return fmt.Errorf("issue id is required")
	}
	query := `
		INSERT INTO issue_outcomes (
			run_id, issue_id, status, pdf_path,
			attachments_ok, attachments_failed, bytes, note, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id, issue_id) DO UPDATE
		SET status = EXCLUDED.status,
			pdf_path = EXCLUDED.pdf_path,
			attachments_ok = EXCLUDED.attachments_ok,
			attachments_failed = EXCLUDED.attachments_failed,
			bytes = EXCLUDED.bytes,
			note = EXCLUDED.note,
			recorded_at = EXCLUDED.recorded_at;
	`
	args := []any{
		outcome.RunID,
		outcome.IssueID,
		outcome.Status,
		outcome.PDFPath,
		outcome.AttachmentsOK,
		outcome.AttachmentsFailed,
		outcome.Bytes,
		outcome.Note,
		outcome.RecordedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ArchiveStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, issue_count, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.IssueCount,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs ordered newest first, with optional status filter.
func (s *ArchiveStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit, offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, issue_count, error_message
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.IssueCount,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunOutcomes retrieves per-issue verdicts for a run.
func (s *ArchiveStore) ListRunOutcomes(
	ctx context.Context,
	runID uuid.UUID,
	limit, offset int,
) ([]store.IssueOutcome, error) {
	query := `
		SELECT run_id, issue_id, status, pdf_path,
			attachments_ok, attachments_failed, bytes, note, recorded_at
		FROM issue_outcomes
		WHERE run_id = $1
		ORDER BY recorded_at
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []store.IssueOutcome
	for rows.Next() {
		var o store.IssueOutcome
		err := rows.Scan(
			&o.RunID,
			&o.IssueID,
			&o.Status,
			&o.PDFPath,
			&o.AttachmentsOK,
			&o.AttachmentsFailed,
			&o.Bytes,
			&o.Note,
			&o.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
