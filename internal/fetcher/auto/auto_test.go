package auto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/minigist/internal/headless/detector"
)

type scriptedRenderer struct {
	html  string
	ok    bool
	calls int
}

func (s *scriptedRenderer) RenderPage(context.Context, string, int) (string, bool) {
	s.calls++
	return s.html, s.ok
}

type promotionCounter struct{ n int }

func (p *promotionCounter) ObserveHeadlessPromotion() { p.n++ }

const article = `<html><body><article><h1>Title</h1><p>Readable article text that needs no scripts.</p></article></body></html>`

func TestStaticPageIsNotPromoted(t *testing.T) {
	t.Parallel()

	static := &scriptedRenderer{html: article, ok: true}
	headless := &scriptedRenderer{html: "<p>rendered</p>", ok: true}
	counter := &promotionCounter{}
	r := New(static, headless, detector.NewHeuristic(64), counter, nil)

	html, ok := r.RenderPage(context.Background(), "https://example.com", 2)
	require.True(t, ok)
	require.Equal(t, article, html)
	require.Zero(t, headless.calls)
	require.Zero(t, counter.n)
}

func TestScriptDrivenPageIsPromoted(t *testing.T) {
	t.Parallel()

	static := &scriptedRenderer{html: `<div id="root"></div>`, ok: true}
	headless := &scriptedRenderer{html: "<p>rendered</p>", ok: true}
	counter := &promotionCounter{}
	r := New(static, headless, detector.NewHeuristic(0), counter, nil)

	html, ok := r.RenderPage(context.Background(), "https://example.com", 2)
	require.True(t, ok)
	require.Equal(t, "<p>rendered</p>", html)
	require.Equal(t, 1, counter.n)
}

func TestFailedStaticFetchFallsBack(t *testing.T) {
	t.Parallel()

	static := &scriptedRenderer{}
	headless := &scriptedRenderer{html: "<p>rendered</p>", ok: true}
	r := New(static, headless, detector.NewHeuristic(0), nil, nil)

	_, ok := r.RenderPage(context.Background(), "https://example.com", 1)
	require.True(t, ok)
	require.Equal(t, 1, headless.calls)
}

func TestCanceledContextSkipsHeadless(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	static := &scriptedRenderer{}
	headless := &scriptedRenderer{html: "<p>rendered</p>", ok: true}
	r := New(static, headless, detector.NewHeuristic(0), nil, nil)

	_, ok := r.RenderPage(ctx, "https://example.com", 1)
	require.False(t, ok)
	require.Zero(t, headless.calls)
}
