package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/render"
)

// FetchConfig selects which entries a run admits.
type FetchConfig struct {
	FeedIDs []int64
	Limit   int
}

// FetchStage lists unread entries and feeds them into the pipeline. It always
// runs with a single worker.
type FetchStage struct {
	source   gist.EntrySource
	cfg      FetchConfig
	out      *Queue
	base     gist.LogContext
	reporter *Reporter
	logger   *zap.Logger

	entries []gist.Entry
}

// NewFetchStage constructs the fetch stage.
func NewFetchStage(
	source gist.EntrySource,
	cfg FetchConfig,
	out *Queue,
	base gist.LogContext,
	reporter *Reporter,
	logger *zap.Logger,
) *FetchStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchStage{
		source:   source,
		cfg:      cfg,
		out:      out,
		base:     base,
		reporter: reporter,
		logger:   logger,
	}
}

// Load queries the feed reader. A failure here is fatal to the run and is
// reported as gist.ErrFetchFailed. Entries that already carry a generated
// summary are dropped.
func (f *FetchStage) Load(ctx context.Context) (int, error) {
	entries, err := f.source.FetchEntries(ctx, f.cfg.FeedIDs, f.cfg.Limit)
	if err != nil {
		f.logger.Error("could not fetch entries", f.base.Fields(zap.Error(err))...)
		return 0, fmt.Errorf("%w: %w", gist.ErrFetchFailed, err)
	}
	admitted := make([]gist.Entry, 0, len(entries))
	for _, entry := range entries {
		if render.IsSummarized(entry.Content) {
			f.logger.Debug("entry already summarized", f.base.Fields(gist.EntryFields(entry)...)...)
			continue
		}
		admitted = append(admitted, entry)
	}
	if dropped := len(entries) - len(admitted); dropped > 0 {
		f.logger.Info("skipping entries that already have a summary", f.base.Fields(zap.Int("count", dropped))...)
	}
	f.entries = admitted
	return len(admitted), nil
}

// Entries returns the admitted entries.
func (f *FetchStage) Entries() []gist.Entry {
	return append([]gist.Entry(nil), f.entries...)
}

// Run emits one item per admitted entry followed by a single end-of-stream
// marker.
func (f *FetchStage) Run(ctx context.Context) error {
	for _, entry := range f.entries {
		item := gist.NewItem(entry, f.base)
		if err := f.out.Enqueue(ctx, gist.ItemMessage(item)); err != nil {
			return fmt.Errorf("fetch forward: %w", err)
		}
	}
	if err := f.out.Enqueue(ctx, gist.EndOfStream()); err != nil {
		return fmt.Errorf("fetch emit end of stream: %w", err)
	}
	f.logger.Debug("fetch finished", f.base.Fields(zap.Int("entries", len(f.entries)))...)
	f.reporter.workerDone(StepFetch)
	return nil
}
