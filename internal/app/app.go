// Package app builds the long-lived services of a minigist invocation from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/api"
	"github.com/JakeFAU/minigist/internal/clock/system"
	"github.com/JakeFAU/minigist/internal/config"
	"github.com/JakeFAU/minigist/internal/dispatcher"
	"github.com/JakeFAU/minigist/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/minigist/internal/fetcher/colly"
	"github.com/JakeFAU/minigist/internal/fetcher/headless"
	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/hash/sha256"
	"github.com/JakeFAU/minigist/internal/headless/detector"
	"github.com/JakeFAU/minigist/internal/id/uuid"
	"github.com/JakeFAU/minigist/internal/metrics"
	"github.com/JakeFAU/minigist/internal/miniflux"
	"github.com/JakeFAU/minigist/internal/policy/ratelimit"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/progress/sinks"
	"github.com/JakeFAU/minigist/internal/publisher/pubsub"
	"github.com/JakeFAU/minigist/internal/render"
	"github.com/JakeFAU/minigist/internal/retry"
	"github.com/JakeFAU/minigist/internal/storage"
	"github.com/JakeFAU/minigist/internal/storage/gcs"
	"github.com/JakeFAU/minigist/internal/storage/local"
	"github.com/JakeFAU/minigist/internal/storage/postgres"
	"github.com/JakeFAU/minigist/internal/store"
	"github.com/JakeFAU/minigist/internal/summarizer"
)

// App holds the services shared by the CLI commands. The feed reader client
// is always built; the pipeline collaborators are built on demand by
// Dispatcher.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	miniflux  *miniflux.Client
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	retries   *prometheus.CounterVec
	status    *sinks.StatusSink
	hub       *progress.Hub
	runStore  *postgres.RunStore
	publisher *pubsub.Publisher
	closers   []func()
}

// New creates the container and the Miniflux client.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minigist",
		Name:      "miniflux_retries_total",
		Help:      "Miniflux calls retried after a transient failure, by action.",
	}, []string{"action"})
	registry.MustRegister(retries)
	pipelineMetrics, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  pipelineMetrics,
		retries:  retries,
		status:   sinks.NewStatusSink(),
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay,
		OnRetry: func(action string, _ int, _ error) {
			retries.WithLabelValues(action).Inc()
		},
	}
	client, err := miniflux.New(miniflux.Config{
		URL:     cfg.Miniflux.URL,
		APIKey:  cfg.Miniflux.APIKey,
		Timeout: cfg.Miniflux.Timeout,
		DryRun:  cfg.DryRun,
	}, policy, logger.Named("miniflux"))
	if err != nil {
		return nil, fmt.Errorf("init miniflux client: %w", err)
	}
	a.miniflux = client
	return a, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Miniflux returns the feed reader client.
func (a *App) Miniflux() *miniflux.Client {
	return a.miniflux
}

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Dispatcher builds the page renderer, the summarizer, the progress hub and
// the optional run store, and wires them into a pipeline.
func (a *App) Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	if err := a.cfg.ValidateSummarizer(); err != nil {
		return nil, err
	}
	llm, err := summarizer.New(summarizer.Config{
		APIKey:         a.cfg.LLM.APIKey,
		Model:          a.cfg.LLM.Model,
		MaxTokens:      a.cfg.LLM.MaxTokens,
		Temperature:    a.cfg.LLM.Temperature,
		MaxInputTokens: a.cfg.LLM.MaxInputTokens,
		SystemPrompt:   a.cfg.LLM.SystemPrompt,
	}, a.logger.Named("summarizer"))
	if err != nil {
		return nil, fmt.Errorf("init summarizer: %w", err)
	}

	renderer, err := a.pageRenderer(ctx)
	if err != nil {
		return nil, err
	}

	hub, err := a.progressHub(ctx)
	if err != nil {
		return nil, err
	}

	return dispatcher.New(dispatcher.Config{
		FeedIDs:           a.cfg.Fetch.FeedIDs,
		Limit:             a.cfg.Fetch.Limit,
		DownloadWorkers:   a.cfg.DownloadWorkers(),
		ReconnectAttempts: a.cfg.Downloader.ReconnectAttempts,
		SummarizeWorkers:  a.cfg.LLM.Concurrency,
		UpdateWorkers:     a.cfg.Pipeline.UpdateWorkers,
		ExecutorSize:      a.cfg.Pipeline.ExecutorSize,
		QueueDepth:        a.cfg.Pipeline.QueueDepth,
		FailureThreshold:  a.cfg.Pipeline.FailureThreshold,
	}, dispatcher.Dependencies{
		Source:     a.miniflux,
		Writer:     a.miniflux,
		Renderer:   renderer,
		Summarizer: llm,
		Content:    render.New(),
		IDs:        uuid.New(),
		Clock:      system.New(),
		Emitter:    hub,
		Occupancy:  a.metrics,
	}, a.logger.Named("pipeline"))
}

// pageRenderer returns nil when downloads are disabled. Every enabled engine
// is paced per site, optionally archived and instrumented.
func (a *App) pageRenderer(ctx context.Context) (gist.PageRenderer, error) {
	d := a.cfg.Downloader
	if !d.Enabled {
		a.logger.Info("downloader disabled; summarizing feed content")
		return nil, nil
	}
	logger := a.logger.Named("download")

	var renderer gist.PageRenderer
	switch d.Engine {
	case config.EngineHTTP:
		renderer = a.staticRenderer(logger)
	case config.EngineAuto:
		browser, err := a.headlessRenderer(logger)
		if err != nil {
			return nil, err
		}
		renderer = auto.New(a.staticRenderer(logger), browser,
			detector.NewHeuristic(d.PromoteThreshold), a.metrics, logger)
	default:
		browser, err := a.headlessRenderer(logger)
		if err != nil {
			return nil, err
		}
		renderer = browser
	}

	limiter := ratelimit.New(ratelimit.Config{PerSiteRPS: d.RatePerSite, Burst: d.Burst}, a.metrics)
	renderer = ratelimit.Wrap(renderer, limiter)

	archive, err := a.pageArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		renderer = storage.NewArchivingRenderer(renderer, archive, sha256.New(), logger.Named("archive"))
	}
	return a.metrics.InstrumentRenderer(renderer), nil
}

// pageArchive returns nil when archiving is disabled.
func (a *App) pageArchive(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("init page archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init page archive: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("failed to close page archive", zap.Error(err))
			}
		})
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) staticRenderer(logger *zap.Logger) gist.PageRenderer {
	d := a.cfg.Downloader
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     d.UserAgent,
		RespectRobots: d.RespectRobots,
		Timeout:       d.Timeout,
	}, logger)
}

func (a *App) headlessRenderer(logger *zap.Logger) (gist.PageRenderer, error) {
	d := a.cfg.Downloader
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       d.MaxParallel,
		UserAgent:         d.UserAgent,
		NavigationTimeout: d.Timeout,
		SettleDelay:       d.SettleDelay,
		RemoteURL:         d.RemoteURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init headless renderer: %w", err)
	}
	a.closers = append(a.closers, renderer.Close)
	return renderer, nil
}

func (a *App) progressHub(ctx context.Context) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress")), promSink, a.status}

	if a.cfg.RunStore.Enabled {
		runStore, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      a.cfg.RunStore.DSN,
			MaxConns: a.cfg.RunStore.MaxConns,
			Migrate:  a.cfg.RunStore.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		a.runStore = runStore
		hubSinks = append(hubSinks, sinks.NewStoreSink(runStore, a.logger.Named("runstore")))
	}

	if a.cfg.Events.Topic != "" {
		publisher, err := pubsub.New(ctx, pubsub.Config{
			ProjectID: a.cfg.Events.ProjectID,
			Topic:     a.cfg.Events.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		a.publisher = publisher
		hubSinks = append(hubSinks, sinks.NewPublishSink(publisher))
	}

	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress"),
	}, hubSinks...)
	return a.hub, nil
}

// Server builds the status and metrics server.
func (a *App) Server() *api.Server {
	var runs store.RunRepository
	if a.runStore != nil {
		runs = a.runStore
	}
	return api.NewServer(api.Options{
		Status:      a.status,
		Runs:        runs,
		Gatherer:    a.registry,
		HTTPMetrics: a.metrics.Middleware,
		APIKey:      a.cfg.Metrics.APIKey,
		Ready: func(ctx context.Context) error {
			_, err := a.miniflux.Feeds(ctx)
			return err
		},
	}, a.logger.Named("api"))
}

// Close flushes progress sinks and releases resources. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		a.publisher = nil
	}
	if a.runStore != nil {
		a.runStore.Close()
		a.runStore = nil
	}
	return errors.Join(errs...)
}
