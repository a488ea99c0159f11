package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/runstate"
)

// DownloadConfig controls the download stage.
type DownloadConfig struct {
	Workers           int
	ReconnectAttempts int
}

// DownloadStage retrieves the rendered page for each entry. With a nil
// renderer items pass through untouched and the summarizer uses the feed
// content.
type DownloadStage struct {
	loop     *stageLoop
	renderer gist.PageRenderer
	executor *Executor
	state    *runstate.State
	cfg      DownloadConfig
	logger   *zap.Logger
}

// NewDownloadStage constructs the download stage. upstream is the number of
// fetch workers (always 1).
func NewDownloadStage(
	renderer gist.PageRenderer,
	executor *Executor,
	cfg DownloadConfig,
	in, out *Queue,
	upstream int,
	state *runstate.State,
	reporter *Reporter,
	logger *zap.Logger,
) *DownloadStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	d := &DownloadStage{
		renderer: renderer,
		executor: executor,
		state:    state,
		cfg:      cfg,
		logger:   logger,
	}
	d.loop = newStageLoop(StepDownload, in, out, upstream, state, reporter, logger, d.download)
	return d
}

// Workers reports the stage concurrency.
func (d *DownloadStage) Workers() int {
	return d.cfg.Workers
}

// Run executes one worker loop.
func (d *DownloadStage) Run(ctx context.Context, workerID int) error {
	return d.loop.run(ctx, workerID)
}

func (d *DownloadStage) download(ctx context.Context, item gist.Item) (gist.Item, error) {
	if d.renderer == nil {
		return item, nil
	}
	url := item.Entry.URL
	d.logger.Debug("downloading page", item.Log.Fields(zap.String("url", url))...)

	future := Submit(ctx, d.executor, func(ctx context.Context) (string, error) {
		html, ok := d.renderer.RenderPage(ctx, url, d.cfg.ReconnectAttempts)
		if !ok {
			return "", gist.ErrCollaborator
		}
		return html, nil
	})
	html, err := future.Await(ctx)
	if ctx.Err() != nil {
		return item, fmt.Errorf("download canceled: %w", ctx.Err())
	}
	if err != nil {
		item.Err = fmt.Errorf("download %s: %w", url, err)
		d.logger.Error("failed to download page", item.Log.Fields(zap.String("url", url), zap.Error(err))...)
		d.state.RecordFailure()
		return item, nil
	}
	item.HTML = html
	d.logger.Debug("downloaded page", item.Log.Fields(zap.Int("bytes", len(html)))...)
	return item, nil
}
