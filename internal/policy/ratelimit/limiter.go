// Package ratelimit implements a token bucket rate limiter for per-site
// download pacing.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/minigist/internal/gist"
)

// DelayObserver records how long a download waited for its site's token.
type DelayObserver interface {
	ObserveRateLimitDelay(site string, duration time.Duration)
}

// Limiter manages per-site rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	observer     DelayObserver
}

// Config holds rate limiter configuration. A non-positive PerSiteRPS
// disables limiting.
type Config struct {
	PerSiteRPS float64
	Burst      int
}

// New creates a new Limiter. observer may be nil.
func New(cfg Config, observer DelayObserver) *Limiter {
	r := rate.Limit(cfg.PerSiteRPS)
	if cfg.PerSiteRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		observer:     observer,
	}
}

// Wait blocks until a token is available for the site of rawURL, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := siteOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[site]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[site] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were available immediately are not recorded.
	if waited := time.Since(start); waited > time.Millisecond && l.observer != nil {
		l.observer.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

// Renderer paces a gist.PageRenderer per site.
type Renderer struct {
	next    gist.PageRenderer
	limiter *Limiter
}

// Wrap returns next unchanged when limiter is nil.
func Wrap(next gist.PageRenderer, limiter *Limiter) gist.PageRenderer {
	if limiter == nil || next == nil {
		return next
	}
	return &Renderer{next: next, limiter: limiter}
}

// RenderPage waits for the site's token and delegates. A canceled wait is
// reported as a failed render.
func (r *Renderer) RenderPage(ctx context.Context, rawURL string, reconnectAttempts int) (string, bool) {
	if err := r.limiter.Wait(ctx, rawURL); err != nil {
		return "", false
	}
	return r.next.RenderPage(ctx, rawURL, reconnectAttempts)
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
