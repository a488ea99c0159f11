package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/runstate"
)

// Skip reasons recorded by the update stage.
const (
	skipEmptySummary = "empty_summary"
)

// ContentRenderer combines a summary with the original entry content.
type ContentRenderer interface {
	Render(summary, original string) (string, error)
}

// UpdateStage is the terminal stage. It renders the enriched content, writes
// it back and tallies exactly one disposition per item.
type UpdateStage struct {
	loop     *stageLoop
	writer   gist.EntryWriter
	renderer ContentRenderer
	executor *Executor
	state    *runstate.State
	reporter *Reporter
	workers  int
	logger   *zap.Logger
}

// NewUpdateStage constructs the update stage. upstream is the number of
// summarize workers.
func NewUpdateStage(
	writer gist.EntryWriter,
	renderer ContentRenderer,
	executor *Executor,
	workers int,
	in *Queue,
	upstream int,
	state *runstate.State,
	reporter *Reporter,
	logger *zap.Logger,
) *UpdateStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	u := &UpdateStage{
		writer:   writer,
		renderer: renderer,
		executor: executor,
		state:    state,
		reporter: reporter,
		workers:  workers,
		logger:   logger,
	}
	u.loop = newStageLoop(StepUpdate, in, nil, upstream, state, reporter, logger, u.update)
	return u
}

// Workers reports the stage concurrency.
func (u *UpdateStage) Workers() int {
	return u.workers
}

// Run executes one worker loop.
func (u *UpdateStage) Run(ctx context.Context, workerID int) error {
	return u.loop.run(ctx, workerID)
}

func (u *UpdateStage) update(ctx context.Context, item gist.Item) (gist.Item, error) {
	switch {
	case item.Failed():
		u.logger.Warn("entry failed upstream", item.Log.Fields(zap.Error(item.Err))...)
		u.state.AddFailed()
		u.report(item, gist.DispositionFailed, item.Err.Error(), 0, 0)
		return item, nil
	case item.Skipped():
		u.logger.Info("skipping entry", item.Log.Fields(zap.String("reason", item.SkipReason))...)
		u.state.AddSkipped()
		u.report(item, gist.DispositionSkipped, item.SkipReason, 0, 0)
		return item, nil
	case strings.TrimSpace(item.Summary) == "":
		// A summarizer that returns nothing without an error yields a skip,
		// not a failure: the entry is left untouched and does not count
		// toward the abort threshold.
		u.logger.Info("no summary produced; skipping entry", item.Log.Fields()...)
		u.state.AddSkipped()
		u.report(item, gist.DispositionSkipped, skipEmptySummary, 0, 0)
		return item, nil
	}

	start := time.Now()
	content, err := u.renderer.Render(item.Summary, item.Entry.Content)
	if err != nil {
		return u.fail(item, fmt.Errorf("%w: %w", gist.ErrRender, err)), nil
	}

	future := Submit(ctx, u.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, u.writer.UpdateEntry(ctx, item.Entry.ID, content, item.Log)
	})
	if _, err := future.Await(ctx); err != nil {
		if ctx.Err() != nil {
			return item, fmt.Errorf("update canceled: %w", ctx.Err())
		}
		return u.fail(item, fmt.Errorf("write back: %w", err)), nil
	}

	u.state.AddProcessed()
	u.logger.Info("entry updated", item.Log.Fields(zap.Int("content_length", len(content)))...)
	u.report(item, gist.DispositionProcessed, "", int64(len(content)), time.Since(start))
	return item, nil
}

func (u *UpdateStage) fail(item gist.Item, err error) gist.Item {
	item.Err = err
	u.logger.Error("failed to update entry", item.Log.Fields(zap.Error(err))...)
	u.state.RecordFailure()
	u.state.AddFailed()
	u.report(item, gist.DispositionFailed, err.Error(), 0, 0)
	return item
}

func (u *UpdateStage) report(item gist.Item, d gist.Disposition, note string, bytes int64, dur time.Duration) {
	u.reporter.Emit(progress.Event{
		Stage:       progress.StageEntryDone,
		Step:        StepUpdate,
		EntryID:     item.Entry.ID,
		FeedID:      item.Entry.FeedID,
		Disposition: string(d),
		Bytes:       bytes,
		Dur:         dur,
		Note:        note,
	})
}
