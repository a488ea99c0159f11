// Package dispatcher wires the pipeline stages together and runs them to
// completion.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/render"
	"github.com/JakeFAU/minigist/internal/runstate"
	"github.com/JakeFAU/minigist/internal/worker"
)

const (
	defaultQueueDepth       = 64
	defaultFailureThreshold = 10
)

// Config sizes the pipeline.
type Config struct {
	FeedIDs           []int64
	Limit             int
	DownloadWorkers   int
	ReconnectAttempts int
	SummarizeWorkers  int
	UpdateWorkers     int
	ExecutorSize      int
	QueueDepth        int
	FailureThreshold  int
}

// Dependencies are the collaborators a run talks to. Renderer may be nil, in
// which case downloads are skipped and the feed content is summarized.
type Dependencies struct {
	Source     gist.EntrySource
	Writer     gist.EntryWriter
	Renderer   gist.PageRenderer
	Summarizer gist.Summarizer
	Content    worker.ContentRenderer
	IDs        gist.IDGenerator
	Clock      gist.Clock
	Emitter    progress.Emitter
	// Occupancy, when set, observes the blocking-call executor.
	Occupancy worker.ExecutorObserver
}

// Report summarizes a finished run.
type Report struct {
	RunID    uuid.UUID
	Counts   runstate.Counts
	Admitted int
	Failures int
	Aborted  bool
	Elapsed  time.Duration
}

// Dispatcher runs one pipeline per call to Run.
type Dispatcher struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// New validates the dependencies and applies defaults to cfg.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Source == nil {
		return nil, errors.New("entry source is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("entry writer is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if deps.Content == nil {
		deps.Content = render.New()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: withDefaults(cfg), deps: deps, logger: logger}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.DownloadWorkers < 1 {
		cfg.DownloadWorkers = 1
	}
	if cfg.SummarizeWorkers < 1 {
		cfg.SummarizeWorkers = 1
	}
	if cfg.UpdateWorkers < 1 {
		cfg.UpdateWorkers = 1
	}
	if cfg.ExecutorSize < 1 {
		cfg.ExecutorSize = cfg.DownloadWorkers + cfg.UpdateWorkers
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	return cfg
}

// Run executes the pipeline and returns the final counts. A failure to list
// entries is fatal: no stage starts and the counts are zero.
func (d *Dispatcher) Run(ctx context.Context) (runstate.Counts, error) {
	report, err := d.Execute(ctx)
	return report.Counts, err
}

// Execute is Run with the full run report.
func (d *Dispatcher) Execute(ctx context.Context) (Report, error) {
	runID, err := d.newRunID()
	if err != nil {
		return Report{}, err
	}
	report := Report{RunID: runID}
	start := d.now()
	reporter := worker.NewReporter(progress.UUIDToBytes(runID), d.deps.Emitter, d.deps.Clock)
	logger := d.logger.With(zap.String("run_id", runID.String()))
	base := gist.NewLogContext(zap.String("run_id", runID.String()))

	state := runstate.New(d.cfg.FailureThreshold, func(failures int) {
		logger.Error("failure threshold reached; draining remaining entries",
			zap.Int("failures", failures),
			zap.Int("threshold", d.cfg.FailureThreshold),
		)
	})

	fetchOut := worker.NewQueue(d.cfg.QueueDepth)
	downloadOut := worker.NewQueue(d.cfg.QueueDepth)
	summarizeOut := worker.NewQueue(d.cfg.QueueDepth)
	executor := worker.NewExecutor(d.cfg.ExecutorSize).WithObserver(d.deps.Occupancy)

	fetch := worker.NewFetchStage(d.deps.Source, worker.FetchConfig{
		FeedIDs: d.cfg.FeedIDs,
		Limit:   d.cfg.Limit,
	}, fetchOut, base, reporter, logger.Named(worker.StepFetch))

	reporter.Emit(progress.Event{Stage: progress.StageRunStart, TS: start})
	admitted, err := fetch.Load(ctx)
	if err != nil {
		report.Elapsed = d.now().Sub(start)
		reporter.Emit(progress.Event{Stage: progress.StageRunError, Dur: report.Elapsed, Note: err.Error()})
		return report, err
	}
	report.Admitted = admitted
	if admitted == 0 {
		logger.Info("no unread entries to summarize")
		report.Elapsed = d.now().Sub(start)
		reporter.Emit(progress.Event{Stage: progress.StageRunDone, Dur: report.Elapsed})
		return report, nil
	}
	logger.Info("starting pipeline",
		zap.Int("entries", admitted),
		zap.Int("download_workers", d.cfg.DownloadWorkers),
		zap.Int("summarize_workers", d.cfg.SummarizeWorkers),
		zap.Int("update_workers", d.cfg.UpdateWorkers),
	)

	download := worker.NewDownloadStage(d.deps.Renderer, executor, worker.DownloadConfig{
		Workers:           d.cfg.DownloadWorkers,
		ReconnectAttempts: d.cfg.ReconnectAttempts,
	}, fetchOut, downloadOut, 1, state, reporter, logger.Named(worker.StepDownload))
	summarize := worker.NewSummarizeStage(d.deps.Summarizer, d.cfg.SummarizeWorkers,
		downloadOut, summarizeOut, download.Workers(), state, reporter, logger.Named(worker.StepSummarize))
	update := worker.NewUpdateStage(d.deps.Writer, d.deps.Content, executor, d.cfg.UpdateWorkers,
		summarizeOut, summarize.Workers(), state, reporter, logger.Named(worker.StepUpdate))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fetch.Run(gctx) })
	for i := range download.Workers() {
		g.Go(func() error { return download.Run(gctx, i) })
	}
	for i := range summarize.Workers() {
		g.Go(func() error { return summarize.Run(gctx, i) })
	}
	for i := range update.Workers() {
		g.Go(func() error { return update.Run(gctx, i) })
	}
	runErr := g.Wait()

	report.Counts = state.Counts()
	report.Failures = state.Failures()
	report.Aborted = state.Aborted()
	report.Elapsed = d.now().Sub(start)

	done := progress.Event{
		Stage:     progress.StageRunDone,
		Processed: int64(report.Counts.Processed),
		Skipped:   int64(report.Counts.Skipped),
		Failed:    int64(report.Counts.Failed),
		Dur:       report.Elapsed,
	}
	switch {
	case runErr != nil:
		done.Stage = progress.StageRunError
		done.Note = runErr.Error()
	case report.Aborted:
		done.Stage = progress.StageRunAborted
		done.Note = fmt.Sprintf("%d failures", report.Failures)
	}
	reporter.Emit(done)

	if runErr != nil {
		logger.Error("pipeline stopped", zap.Error(runErr))
		return report, fmt.Errorf("pipeline: %w", runErr)
	}
	logger.Info("pipeline finished",
		zap.Int("processed", report.Counts.Processed),
		zap.Int("skipped", report.Counts.Skipped),
		zap.Int("failed", report.Counts.Failed),
		zap.Bool("aborted", report.Aborted),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (d *Dispatcher) newRunID() (uuid.UUID, error) {
	if d.deps.IDs == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generate run id: %w", err)
		}
		return id, nil
	}
	raw, err := d.deps.IDs.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return id, nil
}

func (d *Dispatcher) now() time.Time {
	if d.deps.Clock == nil {
		return time.Now().UTC()
	}
	return d.deps.Clock.Now()
}
