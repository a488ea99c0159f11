package metrics

import (
	"context"

	"github.com/JakeFAU/minigist/internal/gist"
)

type instrumentedRenderer struct {
	next    gist.PageRenderer
	metrics *Metrics
}

// InstrumentRenderer records every page download made through next.
func (m *Metrics) InstrumentRenderer(next gist.PageRenderer) gist.PageRenderer {
	if next == nil {
		return nil
	}
	return &instrumentedRenderer{next: next, metrics: m}
}

func (r *instrumentedRenderer) RenderPage(ctx context.Context, url string, reconnectAttempts int) (string, bool) {
	html, ok := r.next.RenderPage(ctx, url, reconnectAttempts)
	r.metrics.ObserveDownload(url, ok, len(html))
	return html, ok
}
