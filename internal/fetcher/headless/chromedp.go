// Package headless contains page renderers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so that
	// client-side scripts can finish populating the page.
	SettleDelay time.Duration
	// RemoteURL points at an already running browser's DevTools endpoint.
	// When empty a local headless Chrome is launched.
	RemoteURL string
}

// Renderer implements gist.PageRenderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless renderer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context and shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// RenderPage navigates with a headless browser and returns the fully rendered
// DOM. Browser failures are retried up to reconnectAttempts times; error
// responses (status >= 400) are not. Failures are logged, never returned.
func (r *Renderer) RenderPage(ctx context.Context, url string, reconnectAttempts int) (string, bool) {
	if url == "" {
		return "", false
	}
	if err := r.acquire(ctx); err != nil {
		r.logger.Warn("headless slot unavailable", zap.String("url", url), zap.Error(err))
		return "", false
	}
	defer r.release()

	attempts := reconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		html, status, err := r.renderOnce(ctx, url)
		switch {
		case err == nil && status >= http.StatusBadRequest:
			r.logger.Warn("page returned error status",
				zap.String("url", url),
				zap.Int("status", status),
			)
			return "", false
		case err == nil:
			return html, html != ""
		case ctx.Err() != nil:
			return "", false
		}
		r.logger.Warn("headless render failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}
	return "", false
}

func (r *Renderer) renderOnce(ctx context.Context, url string) (string, int, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	// Tie the browser tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.runHeadless(taskCtx, url)
	if err != nil {
		return "", 0, err
	}
	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	r.logger.Debug("headless render complete",
		zap.String("url", url),
		zap.String("final_url", responseURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
		zap.Duration("duration", time.Since(start)),
	)
	return html, status, nil
}

func (r *Renderer) runHeadless(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (r *Renderer) settleDelay() time.Duration {
	if r.cfg.SettleDelay > 0 {
		return r.cfg.SettleDelay
	}
	return defaultSettleDelay
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	// The first document response is the navigation target; later ones are frames.
	if m.status == 0 {
		m.status = int(event.Response.Status)
		m.url = event.Response.URL
	}
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
