package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/render"
	"github.com/JakeFAU/minigist/internal/runstate"
)

type fakeSource struct {
	entries []gist.Entry
	err     error
	calls   int
}

func (f *fakeSource) FetchEntries(context.Context, []int64, int) ([]gist.Entry, error) {
	f.calls++
	return f.entries, f.err
}

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeRenderer) RenderPage(_ context.Context, url string, _ int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	html, ok := f.pages[url]
	return html, ok
}

type fakeSummarizer struct {
	mu    sync.Mutex
	fn    func(text string) (string, error)
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(text)
}

type fakeWriter struct {
	mu     sync.Mutex
	fail   map[int64]error
	writes map[int64][]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{fail: map[int64]error{}, writes: map[int64][]string{}}
}

func (f *fakeWriter) UpdateEntry(_ context.Context, id int64, content string, _ gist.LogContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return err
	}
	f.writes[id] = append(f.writes[id], content)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		n += len(w)
	}
	return n
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) byStage(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

func entry(id int64) gist.Entry {
	return gist.Entry{
		ID:      id,
		FeedID:  1,
		Title:   fmt.Sprintf("entry %d", id),
		URL:     fmt.Sprintf("https://example.com/%d", id),
		Content: fmt.Sprintf("<p>original %d</p>", id),
	}
}

func feed(t *testing.T, q *Queue, eos int, items ...gist.Item) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, q.Enqueue(context.Background(), gist.ItemMessage(item)))
	}
	for i := 0; i < eos; i++ {
		require.NoError(t, q.Enqueue(context.Background(), gist.EndOfStream()))
	}
}

func drain(q *Queue) (items []gist.Item, eos int) {
	for q.Len() > 0 {
		msg := <-q.Receive()
		if msg.EOS {
			eos++
			continue
		}
		items = append(items, msg.Item)
	}
	return items, eos
}

func runWorkers(t *testing.T, n int, run func(ctx context.Context, id int) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error { return run(gctx, id) })
	}
	require.NoError(t, g.Wait())
}

func TestFetchStageEmitsItemsThenOneMarker(t *testing.T) {
	t.Parallel()

	summarized, err := render.New().Render("done", "<p>old</p>")
	require.NoError(t, err)
	source := &fakeSource{entries: []gist.Entry{entry(1), entry(2), {ID: 3, Content: summarized}}}
	out := NewQueue(10)
	emitter := &recordingEmitter{}
	stage := NewFetchStage(source, FetchConfig{Limit: 10}, out, gist.LogContext{},
		NewReporter([16]byte{1}, emitter, nil), zap.NewNop())

	n, err := stage.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, stage.Entries(), 2)
	require.NoError(t, stage.Run(context.Background()))

	items, eos := drain(out)
	require.Equal(t, 1, eos)
	require.Len(t, items, 2)
	require.Equal(t, int64(1), items[0].Entry.ID)
	require.Equal(t, 3, items[0].Log.Len())
	require.Len(t, emitter.byStage(progress.StageWorkerDone), 1)
}

func TestFetchStageAdmitsEntriesQuotingWatermark(t *testing.T) {
	t.Parallel()

	quoting := gist.Entry{ID: 4, Content: "<p>Our digest footer reads \"" + render.Watermark + "\".</p><hr><p>More</p>"}
	stage := NewFetchStage(&fakeSource{entries: []gist.Entry{quoting}}, FetchConfig{Limit: 10}, NewQueue(2),
		gist.LogContext{}, nil, zap.NewNop())

	n, err := stage.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFetchStageLoadFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("miniflux unavailable")
	stage := NewFetchStage(&fakeSource{err: boom}, FetchConfig{}, NewQueue(1), gist.LogContext{}, nil, nil)
	_, err := stage.Load(context.Background())
	require.ErrorIs(t, err, gist.ErrFetchFailed)
	require.ErrorIs(t, err, boom)
}

func TestDownloadStageEachWorkerEmitsOneMarker(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(10), NewQueue(10)
	renderer := &fakeRenderer{pages: map[string]string{
		"https://example.com/1": "<html>one</html>",
		"https://example.com/3": "<html>three</html>",
	}}
	state := runstate.New(10, nil)
	stage := NewDownloadStage(renderer, NewExecutor(2), DownloadConfig{Workers: 3, ReconnectAttempts: 4},
		in, out, 1, state, nil, zap.NewNop())
	require.Equal(t, 3, stage.Workers())

	feed(t, in, 1, gist.NewItem(entry(1), gist.LogContext{}), gist.NewItem(entry(2), gist.LogContext{}),
		gist.NewItem(entry(3), gist.LogContext{}))
	runWorkers(t, stage.Workers(), stage.Run)

	items, eos := drain(out)
	require.Equal(t, 3, eos)
	require.Len(t, items, 3)
	byID := map[int64]gist.Item{}
	for _, item := range items {
		byID[item.Entry.ID] = item
	}
	require.Equal(t, "<html>one</html>", byID[1].HTML)
	require.ErrorIs(t, byID[2].Err, gist.ErrCollaborator)
	require.Empty(t, byID[2].HTML)
	require.Equal(t, 1, state.Failures())
}

func TestDownloadStagePassThroughWithoutRenderer(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(4), NewQueue(4)
	stage := NewDownloadStage(nil, NewExecutor(1), DownloadConfig{}, in, out, 1, runstate.New(1, nil), nil, nil)
	feed(t, in, 1, gist.NewItem(entry(1), gist.LogContext{}))
	runWorkers(t, 1, stage.Run)

	items, eos := drain(out)
	require.Equal(t, 1, eos)
	require.Len(t, items, 1)
	require.NoError(t, items[0].Err)
	require.Equal(t, "<p>original 1</p>", items[0].Text())
}

func TestSummarizeStageWaitsForAllUpstreamMarkers(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(10), NewQueue(10)
	summarizer := &fakeSummarizer{fn: func(text string) (string, error) { return "sum of " + text, nil }}
	stage := NewSummarizeStage(summarizer, 2, in, out, 3, runstate.New(5, nil), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < stage.Workers(); i++ {
		id := i
		g.Go(func() error { return stage.Run(gctx, id) })
	}

	item := gist.NewItem(entry(1), gist.LogContext{})
	item.HTML = "<html>page</html>"
	feed(t, in, 2, item)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case <-done:
		t.Fatal("stage finished before every upstream marker arrived")
	case <-time.After(50 * time.Millisecond):
	}

	feed(t, in, 1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stage did not finish")
	}

	items, eos := drain(out)
	require.Equal(t, 2, eos)
	require.Len(t, items, 1)
	require.Equal(t, "sum of <html>page</html>", items[0].Summary)
}

func TestSummarizeStageRecordsFailureAndForwards(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(10), NewQueue(10)
	boom := errors.New("llm down")
	summarizer := &fakeSummarizer{fn: func(string) (string, error) { return "", boom }}
	state := runstate.New(5, nil)
	stage := NewSummarizeStage(summarizer, 1, in, out, 1, state, nil, nil)

	failed := gist.NewItem(entry(2), gist.LogContext{})
	failed.Err = gist.ErrCollaborator
	feed(t, in, 1, gist.NewItem(entry(1), gist.LogContext{}), failed)
	runWorkers(t, 1, stage.Run)

	items, eos := drain(out)
	require.Equal(t, 1, eos)
	require.Len(t, items, 2)
	require.ErrorIs(t, items[0].Err, boom)
	require.ErrorIs(t, items[1].Err, gist.ErrCollaborator)
	require.Equal(t, 1, summarizer.calls)
	require.Equal(t, 1, state.Failures())
}

func TestUpdateStageDispositions(t *testing.T) {
	t.Parallel()

	in := NewQueue(10)
	writer := newFakeWriter()
	writer.fail[4] = errors.New("502 from miniflux")
	state := runstate.New(10, nil)
	emitter := &recordingEmitter{}
	stage := NewUpdateStage(writer, render.New(), NewExecutor(2), 2, in, 1, state,
		NewReporter([16]byte{9}, emitter, nil), zap.NewNop())

	ok := gist.NewItem(entry(1), gist.LogContext{})
	ok.Summary = "A **short** summary."
	upstreamFailed := gist.NewItem(entry(2), gist.LogContext{})
	upstreamFailed.Err = fmt.Errorf("download: %w", gist.ErrCollaborator)
	empty := gist.NewItem(entry(3), gist.LogContext{})
	empty.Summary = "   "
	writeFails := gist.NewItem(entry(4), gist.LogContext{})
	writeFails.Summary = "summary"

	feed(t, in, 1, ok, upstreamFailed, empty, writeFails)
	runWorkers(t, stage.Workers(), stage.Run)

	require.Equal(t, runstate.Counts{Processed: 1, Skipped: 1, Failed: 2}, state.Counts())
	require.Equal(t, 1, state.Failures())
	require.Len(t, writer.writes[1], 1)
	require.Equal(t, 1, writer.count())

	written := writer.writes[1][0]
	require.True(t, render.HasWatermark(written))
	original, err := render.ExtractOriginal(written)
	require.NoError(t, err)
	require.Equal(t, entry(1).Content, original)

	require.Len(t, emitter.byStage(progress.StageEntryDone), 4)
	require.Len(t, emitter.byStage(progress.StageWorkerDone), 2)
}

func TestUpdateStageWritesNothingAfterAbort(t *testing.T) {
	t.Parallel()

	in := NewQueue(10)
	writer := newFakeWriter()
	state := runstate.New(1, nil)
	require.True(t, state.RecordFailure())
	stage := NewUpdateStage(writer, render.New(), NewExecutor(1), 1, in, 2, state, nil, nil)

	var items []gist.Item
	for id := int64(1); id <= 3; id++ {
		item := gist.NewItem(entry(id), gist.LogContext{})
		item.Summary = "summary"
		items = append(items, item)
	}
	feed(t, in, 2, items...)
	runWorkers(t, 1, stage.Run)

	require.Zero(t, writer.count())
	require.Equal(t, runstate.Counts{Skipped: 3}, state.Counts())
}

func TestAbortDrainsWithoutProcessing(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(10), NewQueue(10)
	state := runstate.New(1, nil)
	state.RecordFailure()
	summarizer := &fakeSummarizer{fn: func(string) (string, error) { return "x", nil }}
	stage := NewSummarizeStage(summarizer, 1, in, out, 1, state, nil, nil)

	feed(t, in, 1, gist.NewItem(entry(1), gist.LogContext{}))
	runWorkers(t, 1, stage.Run)

	items, eos := drain(out)
	require.Equal(t, 1, eos)
	require.Len(t, items, 1)
	require.Equal(t, gist.SkipAborted, items[0].SkipReason)
	require.Empty(t, items[0].Summary)
	require.Zero(t, summarizer.calls)
}

func TestStageStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	in, out := NewQueue(1), NewQueue(1)
	stage := NewDownloadStage(nil, NewExecutor(1), DownloadConfig{}, in, out, 1, runstate.New(1, nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := stage.Run(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
