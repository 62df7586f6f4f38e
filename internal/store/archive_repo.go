// Package store declares interfaces for persisting crawl run history.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("archive record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunAborted marks runs that stopped early, e.g. session expiry.
	RunAborted RunStatus = "aborted"
)

// Run models the crawl_runs table.
type Run struct {
	// ID is the run identifier shared with progress events.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches completed/aborted.
	FinishedAt *time.Time
	// Status is running/completed/aborted.
	Status RunStatus
	// IssueCount is the number of issue IDs requested for the run.
	IssueCount int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// IssueOutcome models one row of issue_outcomes: the terminal verdict for a
// single issue within a run.
type IssueOutcome struct {
	// RunID is the owning crawl run.
	RunID uuid.UUID
	// IssueID is the tracker identifier.
	IssueID string
	// Status is the terminal verdict (succeeded, partially_failed, failed,
	// incomplete) as emitted by the pipeline.
	Status string
	// PDFPath is nil when no PDF was produced.
	PDFPath *string
	// AttachmentsOK/AttachmentsFailed summarize the download step.
	AttachmentsOK     int
	AttachmentsFailed int
	// Bytes accumulates attachment payload written for the issue.
	Bytes int64
	// Note optionally stores error detail for failing issues.
	Note *string
	// RecordedAt is the terminal transition timestamp.
	RecordedAt time.Time
}

// ArchiveRepository persists crawl runs and per-issue outcomes.
type ArchiveRepository interface {
	// BeginRun inserts (or idempotently updates) the run as running.
	BeginRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, issueCount int) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// RecordOutcome upserts the terminal verdict for one issue.
	RecordOutcome(ctx context.Context, outcome IssueOutcome) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunOutcomes returns the per-issue verdicts for one run.
	ListRunOutcomes(ctx context.Context, runID uuid.UUID, limit, offset int) ([]IssueOutcome, error)
}
