package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/minigist/internal/progress"
)

// RunStatus is the live view of the most recent run.
type RunStatus struct {
	RunID       string           `json:"run_id"`
	State       string           `json:"state"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Processed   int64            `json:"processed"`
	Skipped     int64            `json:"skipped"`
	Failed      int64            `json:"failed"`
	WorkersDone map[string]int64 `json:"workers_done"`
	Note        string           `json:"note,omitempty"`
}

// StatusSink keeps an in-memory snapshot of the latest run for the status
// endpoint.
type StatusSink struct {
	mu      sync.RWMutex
	current *RunStatus
}

// NewStatusSink constructs an empty tracker.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume folds the batch into the snapshot.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	runID := uuid.UUID(evt.RunID).String()
	if evt.Stage == progress.StageRunStart {
		s.current = &RunStatus{
			RunID:       runID,
			State:       "running",
			StartedAt:   evt.TS,
			WorkersDone: map[string]int64{},
		}
		return
	}
	if s.current == nil || s.current.RunID != runID {
		return
	}
	switch evt.Stage {
	case progress.StageEntryDone:
		switch evt.Disposition {
		case "processed":
			s.current.Processed++
		case "skipped":
			s.current.Skipped++
		case "failed":
			s.current.Failed++
		}
	case progress.StageWorkerDone:
		s.current.WorkersDone[evt.Step]++
	case progress.StageRunDone, progress.StageRunAborted, progress.StageRunError:
		finished := evt.TS
		s.current.FinishedAt = &finished
		s.current.State = runResult(evt.Stage)
		s.current.Processed = evt.Processed
		s.current.Skipped = evt.Skipped
		s.current.Failed = evt.Failed
		s.current.Note = evt.Note
	}
}

// Snapshot returns a copy of the latest run status.
func (s *StatusSink) Snapshot() (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return RunStatus{}, false
	}
	out := *s.current
	out.WorkersDone = make(map[string]int64, len(s.current.WorkersDone))
	for k, v := range s.current.WorkersDone {
		out.WorkersDone[k] = v
	}
	return out, true
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
