// Package storage archives downloaded article pages to a blob store so that
// the markup a summary was generated from can be inspected later.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/metrics"
)

const htmlContentType = "text/html; charset=utf-8"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Keyer derives a stable object key from the page URL.
type Keyer interface {
	Key(data []byte, ext string) string
}

// ArchivingRenderer stores every successfully rendered page before handing
// it on. Archive failures are logged and never fail the download.
type ArchivingRenderer struct {
	next   gist.PageRenderer
	store  BlobStore
	keyer  Keyer
	logger *zap.Logger
}

// NewArchivingRenderer wraps next. A nil store returns next unchanged.
func NewArchivingRenderer(next gist.PageRenderer, store BlobStore, keyer Keyer, logger *zap.Logger) gist.PageRenderer {
	if next == nil || store == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchivingRenderer{next: next, store: store, keyer: keyer, logger: logger}
}

// RenderPage delegates and archives the result under "<site>/<key>.html".
func (r *ArchivingRenderer) RenderPage(ctx context.Context, url string, reconnectAttempts int) (string, bool) {
	html, ok := r.next.RenderPage(ctx, url, reconnectAttempts)
	if !ok {
		return html, ok
	}
	key := ObjectKey(url, r.keyer)
	uri, err := r.store.PutObject(ctx, key, htmlContentType, strings.NewReader(html))
	if err != nil {
		r.logger.Warn("failed to archive page", zap.String("url", url), zap.Error(err))
		return html, ok
	}
	r.logger.Debug("archived page", zap.String("url", url), zap.String("uri", uri))
	return html, ok
}

// ObjectKey groups archived pages by site.
func ObjectKey(url string, keyer Keyer) string {
	return path.Join(metrics.SanitizeSite(url), keyer.Key([]byte(url), ".html"))
}
