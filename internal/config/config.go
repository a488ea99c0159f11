// Package config loads and validates minigist configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Downloader engines.
const (
	EngineHeadless = "headless"
	EngineHTTP     = "http"
	EngineAuto     = "auto"
)

// Archive backends.
const (
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Miniflux   MinifluxConfig   `mapstructure:"miniflux"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	RunStore   RunStoreConfig   `mapstructure:"runstore"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Events     EventsConfig     `mapstructure:"events"`
	DryRun     bool             `mapstructure:"dry_run"`
	LockFile   string           `mapstructure:"lock_file"`
}

// MinifluxConfig points at the feed reader.
type MinifluxConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig selects which unread entries are admitted.
type FetchConfig struct {
	FeedIDs []int64 `mapstructure:"feed_ids"`
	Limit   int     `mapstructure:"limit"`
}

// LLMConfig configures the summarizer.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxInputTokens int     `mapstructure:"max_input_tokens"`
	Concurrency    int     `mapstructure:"concurrency"`
	SystemPrompt   string  `mapstructure:"system_prompt"`
}

// DownloaderConfig configures full-page retrieval.
type DownloaderConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Engine            string        `mapstructure:"engine"`
	Workers           int           `mapstructure:"workers"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RemoteURL         string        `mapstructure:"remote_url"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	// RatePerSite caps requests per second to one host; 0 disables pacing.
	RatePerSite float64 `mapstructure:"rate_per_site"`
	Burst       int     `mapstructure:"burst"`
	// PromoteThreshold is the body size below which a script-heavy page is
	// re-rendered headless by the auto engine.
	PromoteThreshold int `mapstructure:"promote_threshold"`
}

// PipelineConfig sizes queues, update workers and the abort threshold.
type PipelineConfig struct {
	QueueDepth       int `mapstructure:"queue_depth"`
	UpdateWorkers    int `mapstructure:"update_workers"`
	ExecutorSize     int `mapstructure:"executor_size"`
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// RetryConfig governs feed reader retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the status and metrics server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	APIKey  string `mapstructure:"api_key"`
}

// RunStoreConfig controls the optional Postgres run history.
type RunStoreConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// ArchiveConfig stores downloaded pages. An empty backend disables it.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// EventsConfig publishes progress events to Pub/Sub when Topic is set.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk and environment. v may carry flag bindings;
// nil uses a fresh instance.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("MINIGIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default are still registered so that
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("miniflux.url", "")
	v.SetDefault("miniflux.api_key", "")
	v.SetDefault("miniflux.timeout", "30s")
	v.SetDefault("fetch.feed_ids", []int64{})
	v.SetDefault("fetch.limit", 50)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_input_tokens", 12000)
	v.SetDefault("llm.concurrency", 2)
	v.SetDefault("downloader.enabled", true)
	v.SetDefault("downloader.engine", EngineHeadless)
	v.SetDefault("downloader.workers", 2)
	v.SetDefault("downloader.reconnect_attempts", 4)
	v.SetDefault("downloader.user_agent", "minigist/1.0")
	v.SetDefault("downloader.timeout", "30s")
	v.SetDefault("downloader.settle_delay", "500ms")
	v.SetDefault("downloader.max_parallel", 2)
	v.SetDefault("downloader.respect_robots", false)
	v.SetDefault("downloader.remote_url", "")
	v.SetDefault("downloader.rate_per_site", 1.0)
	v.SetDefault("downloader.burst", 2)
	v.SetDefault("downloader.promote_threshold", 2048)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.update_workers", 2)
	v.SetDefault("pipeline.executor_size", 0)
	v.SetDefault("pipeline.failure_threshold", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay", "2s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.api_key", "")
	v.SetDefault("runstore.enabled", false)
	v.SetDefault("runstore.dsn", "")
	v.SetDefault("runstore.max_conns", 4)
	v.SetDefault("runstore.migrate", true)
	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "minigist/pages")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("lock_file", "/tmp/minigist.lock")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Miniflux.URL == "" {
		return fmt.Errorf("miniflux.url must be set")
	}
	if c.Miniflux.APIKey == "" {
		return fmt.Errorf("miniflux.api_key must be set")
	}
	if c.Miniflux.Timeout <= 0 {
		return fmt.Errorf("miniflux.timeout must be > 0")
	}
	if c.Fetch.Limit <= 0 {
		return fmt.Errorf("fetch.limit must be > 0")
	}
	if c.LLM.Concurrency <= 0 {
		return fmt.Errorf("llm.concurrency must be > 0")
	}
	if c.Downloader.Enabled {
		switch c.Downloader.Engine {
		case EngineHeadless, EngineHTTP, EngineAuto:
		default:
			return fmt.Errorf("downloader.engine must be one of %q, %q or %q", EngineHeadless, EngineHTTP, EngineAuto)
		}
		if c.Downloader.Workers <= 0 {
			return fmt.Errorf("downloader.workers must be > 0 when the downloader is enabled")
		}
		if c.Downloader.ReconnectAttempts <= 0 {
			return fmt.Errorf("downloader.reconnect_attempts must be > 0")
		}
		if c.Downloader.RatePerSite < 0 {
			return fmt.Errorf("downloader.rate_per_site must be >= 0")
		}
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Pipeline.UpdateWorkers <= 0 {
		return fmt.Errorf("pipeline.update_workers must be > 0")
	}
	if c.Pipeline.ExecutorSize < 0 {
		return fmt.Errorf("pipeline.executor_size must be >= 0")
	}
	if c.Pipeline.FailureThreshold <= 0 {
		return fmt.Errorf("pipeline.failure_threshold must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must be >= 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if c.RunStore.Enabled && c.RunStore.DSN == "" {
		return fmt.Errorf("runstore.dsn must be set when the run store is enabled")
	}
	switch c.Archive.Backend {
	case "":
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend must be %q or %q", ArchiveLocal, ArchiveGCS)
	}
	if c.Events.Topic != "" && c.Events.ProjectID == "" {
		return fmt.Errorf("events.project_id must be set when events.topic is set")
	}
	return nil
}

// ValidateSummarizer checks the settings only the pipeline needs; the strip
// command never talks to the model.
func (c Config) ValidateSummarizer() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set")
	}
	return nil
}

// DownloadWorkers returns the download stage concurrency. A disabled
// downloader still runs one pass-through worker.
func (c Config) DownloadWorkers() int {
	if !c.Downloader.Enabled {
		return 1
	}
	return c.Downloader.Workers
}
