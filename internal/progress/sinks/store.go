package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/store"
)

// StoreSink persists run lifecycle and entry dispositions via a
// store.RunRepository. Entry results are written in one statement per batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Pending entry results are flushed
// before a run is started or completed so rows never reference a missing run.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.EntryResult
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordEntries(ctx, pending); err != nil {
			return fmt.Errorf("record entries: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch {
		case evt.Stage == progress.StageRunStart:
			if err := flush(); err != nil {
				return err
			}
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case evt.Stage == progress.StageEntryDone:
			pending = append(pending, store.EntryResult{
				RunID:       runID,
				EntryID:     evt.EntryID,
				FeedID:      evt.FeedID,
				Disposition: evt.Disposition,
				Note:        evt.Note,
				Bytes:       evt.Bytes,
				At:          evt.TS,
			})
		case evt.Terminal():
			if err := flush(); err != nil {
				return err
			}
			if err := s.completeRun(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) completeRun(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	switch evt.Stage {
	case progress.StageRunAborted:
		status = store.RunAborted
	case progress.StageRunError:
		status = store.RunError
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	totals := store.Totals{Processed: evt.Processed, Skipped: evt.Skipped, Failed: evt.Failed}
	if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, totals, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
