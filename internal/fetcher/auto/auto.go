// Package auto renders pages with a plain HTTP fetch and falls back to a
// headless browser when the static markup looks script-driven.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
)

// Detector reports whether static markup needs a headless render.
type Detector interface {
	ShouldPromote(body string) bool
}

// PromotionObserver counts pages handed to the headless renderer.
type PromotionObserver interface {
	ObserveHeadlessPromotion()
}

// Renderer implements gist.PageRenderer.
type Renderer struct {
	static   gist.PageRenderer
	headless gist.PageRenderer
	detector Detector
	observer PromotionObserver
	logger   *zap.Logger
}

// New builds a Renderer. observer may be nil.
func New(static, headless gist.PageRenderer, detector Detector, observer PromotionObserver, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		static:   static,
		headless: headless,
		detector: detector,
		observer: observer,
		logger:   logger,
	}
}

// RenderPage tries the static renderer first. A failed static fetch or a
// promoted body is retried with the headless renderer.
func (r *Renderer) RenderPage(ctx context.Context, url string, reconnectAttempts int) (string, bool) {
	html, ok := r.static.RenderPage(ctx, url, reconnectAttempts)
	if ok && !r.detector.ShouldPromote(html) {
		return html, true
	}
	if ctx.Err() != nil {
		return "", false
	}
	r.logger.Debug("promoting page to headless render",
		zap.String("url", url),
		zap.Bool("static_ok", ok),
		zap.Int("static_bytes", len(html)),
	)
	if r.observer != nil {
		r.observer.ObserveHeadlessPromotion()
	}
	return r.headless.RenderPage(ctx, url, reconnectAttempts)
}
