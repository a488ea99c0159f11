// Package collyfetcher implements a plain-HTTP page renderer using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Renderer implements gist.PageRenderer with a Colly collector. It does not
// execute JavaScript, so it suits sites that serve their article markup
// directly.
type Renderer struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type pageResult struct {
	status int
	body   string
	err    error
}

// New builds a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Renderer{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// RenderPage fetches url with a single GET, retrying transport failures up
// to reconnectAttempts times. HTTP error statuses are not retried.
func (r *Renderer) RenderPage(ctx context.Context, url string, reconnectAttempts int) (string, bool) {
	if url == "" {
		return "", false
	}
	attempts := reconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := r.fetch(ctx, url)
		switch {
		case err == nil && result.status >= http.StatusBadRequest:
			r.logger.Warn("page returned error status",
				zap.String("url", url),
				zap.Int("status", result.status),
			)
			return "", false
		case err == nil:
			return result.body, result.body != ""
		case ctx.Err() != nil:
			return "", false
		}
		r.logger.Warn("http render failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}
	return "", false
}

func (r *Renderer) fetch(ctx context.Context, url string) (pageResult, error) {
	var result pageResult
	collector := r.buildCollector(&result)
	if err := r.runCollector(ctx, collector, url, &result); err != nil {
		return pageResult{}, err
	}
	return result, nil
}

func (r *Renderer) buildCollector(result *pageResult) *colly.Collector {
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !r.cfg.RespectRobots
	collector.AllowURLRevisit = true
	// Error statuses reach OnResponse so they can be reported without a retry.
	collector.ParseHTTPErrorResponse = true
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	transport := r.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	configureCollectorHooks(collector, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *pageResult) {
	hooks.OnResponse(func(resp *colly.Response) {
		result.status = resp.StatusCode
		result.body = string(resp.Body)
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			result.status = resp.StatusCode
			return
		}
		result.err = err
	})
}

func (r *Renderer) runCollector(ctx context.Context, collector *colly.Collector, url string, result *pageResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && result.status == 0 {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
