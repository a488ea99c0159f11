package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/app"
	"github.com/JakeFAU/minigist/internal/gist"
)

var errAlreadyRunning = errors.New("another minigist run is in progress")

// feedLister is the part of the Miniflux client used to resolve feed titles.
type feedLister interface {
	Feeds(ctx context.Context) ([]gist.Feed, error)
}

// newRunCmd creates the 'run' subcommand, which executes one pipeline pass.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Summarize unread entries and write the summaries back",
		Long: `Fetches unread entries from Miniflux, downloads each article, asks the
LLM for a summary and writes the summary above the original content. A lock
file prevents overlapping runs; the final counts are printed as a table.`,
		Args: cobra.NoArgs,
		RunE: runPipeline,
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	ctx := cmd.Context()

	lock, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer releaseLock(lock, logger)

	pipeline, err := appInstance.Dispatcher(ctx)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	logFeedTitles(ctx, appInstance.Miniflux(), cfg.Fetch.FeedIDs, logger)

	stopServer := startStatusServer(ctx, appInstance)
	report, runErr := pipeline.Execute(ctx)
	stopServer()
	// Flush progress sinks before printing so the run history is complete.
	closeApp(appInstance)

	if _, err := fmt.Fprint(cmd.OutOrStdout(), renderReport(report, cfg.DryRun, runErr)); err != nil {
		logger.Warn("failed to print run report", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("run pipeline: %w", runErr)
	}
	return nil
}

func acquireLock(path string) (*flock.Flock, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", errAlreadyRunning, path)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock, logger *zap.Logger) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logger.Warn("failed to release run lock", zap.String("lock", lock.Path()), zap.Error(err))
	}
}

// startStatusServer serves metrics and run status while the pipeline runs.
// The returned function stops the server and waits for it to exit.
func startStatusServer(ctx context.Context, a *app.App) func() {
	cfg := a.Config()
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	serverCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	server := a.Server()
	go func() {
		defer close(done)
		if err := server.ListenAndServe(serverCtx, cfg.Metrics.Addr); err != nil {
			a.Logger().Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// logFeedTitles resolves the configured feed IDs to titles for the log. A
// lookup failure is not fatal.
func logFeedTitles(ctx context.Context, feeds feedLister, feedIDs []int64, logger *zap.Logger) {
	if len(feedIDs) == 0 {
		logger.Info("fetching unread entries from all feeds")
		return
	}
	all, err := feeds.Feeds(ctx)
	if err != nil {
		logger.Warn("could not load feed titles", zap.Error(err))
		return
	}
	titles := make(map[int64]string, len(all))
	for _, feed := range all {
		titles[feed.ID] = feed.Title
	}
	for _, id := range feedIDs {
		title, ok := titles[id]
		if !ok {
			logger.Warn("configured feed not found", zap.Int64("feed_id", id))
			continue
		}
		logger.Info("fetching unread entries from feed", zap.Int64("feed_id", id), zap.String("feed_title", title))
	}
}
