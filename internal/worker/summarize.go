package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/runstate"
)

const summaryPreviewRunes = 100

// SummarizeStage asks the model for a synopsis of each item. Its concurrency
// bounds the number of in-flight model calls.
type SummarizeStage struct {
	loop       *stageLoop
	summarizer gist.Summarizer
	state      *runstate.State
	workers    int
	logger     *zap.Logger
}

// NewSummarizeStage constructs the summarize stage. upstream is the number of
// download workers.
func NewSummarizeStage(
	summarizer gist.Summarizer,
	workers int,
	in, out *Queue,
	upstream int,
	state *runstate.State,
	reporter *Reporter,
	logger *zap.Logger,
) *SummarizeStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	s := &SummarizeStage{
		summarizer: summarizer,
		state:      state,
		workers:    workers,
		logger:     logger,
	}
	s.loop = newStageLoop(StepSummarize, in, out, upstream, state, reporter, logger, s.summarize)
	return s
}

// Workers reports the stage concurrency.
func (s *SummarizeStage) Workers() int {
	return s.workers
}

// Run executes one worker loop.
func (s *SummarizeStage) Run(ctx context.Context, workerID int) error {
	return s.loop.run(ctx, workerID)
}

func (s *SummarizeStage) summarize(ctx context.Context, item gist.Item) (gist.Item, error) {
	text := item.Text()
	s.logger.Debug("summarizing entry", item.Log.Fields(zap.Int("input_bytes", len(text)))...)

	summary, err := s.summarizer.Summarize(ctx, text)
	if ctx.Err() != nil {
		return item, fmt.Errorf("summarize canceled: %w", ctx.Err())
	}
	if err != nil {
		item.Err = fmt.Errorf("summarize: %w", err)
		s.logger.Error("failed to summarize entry", item.Log.Fields(zap.Error(err))...)
		s.state.RecordFailure()
		return item, nil
	}
	item.Summary = summary
	s.logger.Info("generated summary", item.Log.Fields(
		zap.String("summary", gist.Preview(summary, summaryPreviewRunes)),
	)...)
	return item, nil
}
