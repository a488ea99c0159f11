package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunAborted RunStatus = "aborted"
	RunError   RunStatus = "error"
)

// Totals holds the per-run disposition counts.
type Totals struct {
	Processed int64
	Skipped   int64
	Failed    int64
}

// Run models one row of the runs table.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Totals     Totals
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// EntryResult records the disposition of one entry within a run.
type EntryResult struct {
	RunID       uuid.UUID
	EntryID     int64
	FeedID      int64
	Disposition string
	Note        string
	Bytes       int64
	At          time.Time
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun inserts the run row in the running state.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with its status, totals and error.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		totals Totals,
		errMsg *string,
	) error
	// RecordEntries appends entry dispositions for a run.
	RecordEntries(ctx context.Context, results []EntryResult) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunEntries returns the entry dispositions recorded for one run.
	ListRunEntries(ctx context.Context, runID uuid.UUID, limit, offset int) ([]EntryResult, error)
}
