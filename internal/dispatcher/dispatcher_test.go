package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/render"
	"github.com/JakeFAU/minigist/internal/runstate"
)

type stubSource struct {
	entries []gist.Entry
	err     error
}

func (s stubSource) FetchEntries(context.Context, []int64, int) ([]gist.Entry, error) {
	return s.entries, s.err
}

type stubRenderer struct {
	missing map[string]bool
}

func (s stubRenderer) RenderPage(_ context.Context, url string, _ int) (string, bool) {
	if s.missing[url] {
		return "", false
	}
	return "<article>" + url + "</article>", true
}

type stubSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSummarizer) Summarize(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "Summary of " + text, nil
}

func (s *stubSummarizer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubWriter struct {
	mu     sync.Mutex
	writes map[int64]string
}

func (s *stubWriter) UpdateEntry(_ context.Context, id int64, content string, _ gist.LogContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == nil {
		s.writes = map[int64]string{}
	}
	s.writes[id] = content
	return nil
}

func (s *stubWriter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

type collectingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectingEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectingEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (c *collectingEmitter) last() progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func entries(n int) []gist.Entry {
	out := make([]gist.Entry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, gist.Entry{
			ID:      int64(i),
			FeedID:  7,
			Title:   fmt.Sprintf("Entry %d", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Content: fmt.Sprintf("<p>body %d</p>", i),
		})
	}
	return out
}

func newDispatcher(t *testing.T, cfg Config, deps Dependencies) *Dispatcher {
	t.Helper()
	d, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestRunCountsEveryDisposition(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	emitter := &collectingEmitter{}
	d := newDispatcher(t, Config{
		DownloadWorkers:  2,
		SummarizeWorkers: 2,
		UpdateWorkers:    2,
		QueueDepth:       2,
		FailureThreshold: 5,
	}, Dependencies{
		Source:     stubSource{entries: entries(3)},
		Writer:     writer,
		Renderer:   stubRenderer{missing: map[string]bool{"https://example.com/2": true}},
		Summarizer: &stubSummarizer{},
		IDs:        fixedIDs{id: "0190c4d2-7a3b-7cc1-9d2e-3f4a5b6c7d8e"},
		Clock:      fixedClock{},
		Emitter:    emitter,
	})

	report, err := d.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, runstate.Counts{Processed: 2, Failed: 1}, report.Counts)
	require.Equal(t, 3, report.Admitted)
	require.Equal(t, 1, report.Failures)
	require.False(t, report.Aborted)
	require.Equal(t, "0190c4d2-7a3b-7cc1-9d2e-3f4a5b6c7d8e", report.RunID.String())

	require.Equal(t, 2, writer.count())
	original, err := render.ExtractOriginal(writer.writes[1])
	require.NoError(t, err)
	require.Equal(t, "<p>body 1</p>", original)

	stages := emitter.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	last := emitter.last()
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, int64(2), last.Processed)
	require.Equal(t, int64(1), last.Failed)
	require.Equal(t, report.RunID, last.RunUUID())
	// 1 fetch + 2 download + 2 summarize + 2 update workers.
	require.Equal(t, 7, countStage(stages, progress.StageWorkerDone))
	require.Equal(t, 3, countStage(stages, progress.StageEntryDone))
}

func TestRunWritesOriginalContentBackUnchanged(t *testing.T) {
	t.Parallel()

	feedEntries := entries(3)
	feedEntries[0].Content = `<p>He said "hi" and it's fine</p>`
	feedEntries[1].Content = `<p>See <a href="https://example.org/a" title="src">the source</a><br/>` +
		`<img alt="chart" src="https://example.org/c.png"></p>`
	feedEntries[2].Content = "\n<p>AT&T &amp; friends</p>\n  "

	writer := &stubWriter{}
	d := newDispatcher(t, Config{UpdateWorkers: 2, SummarizeWorkers: 2}, Dependencies{
		Source:     stubSource{entries: feedEntries},
		Writer:     writer,
		Summarizer: &stubSummarizer{},
	})

	counts, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, runstate.Counts{Processed: 3}, counts)
	for _, entry := range feedEntries {
		original, err := render.ExtractOriginal(writer.writes[entry.ID])
		require.NoError(t, err)
		require.Equal(t, entry.Content, original, "entry %d", entry.ID)
	}
}

func TestRunFetchFailureStartsNothing(t *testing.T) {
	t.Parallel()

	summarizer := &stubSummarizer{}
	writer := &stubWriter{}
	emitter := &collectingEmitter{}
	boom := errors.New("connection refused")
	d := newDispatcher(t, Config{}, Dependencies{
		Source:     stubSource{err: boom},
		Writer:     writer,
		Summarizer: summarizer,
		Emitter:    emitter,
	})

	counts, err := d.Run(context.Background())
	require.ErrorIs(t, err, gist.ErrFetchFailed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, runstate.Counts{}, counts)
	require.Zero(t, summarizer.count())
	require.Zero(t, writer.count())
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunError}, emitter.stages())
}

func TestRunWithNoEntries(t *testing.T) {
	t.Parallel()

	emitter := &collectingEmitter{}
	d := newDispatcher(t, Config{}, Dependencies{
		Source:     stubSource{},
		Writer:     &stubWriter{},
		Summarizer: &stubSummarizer{},
		Emitter:    emitter,
	})

	report, err := d.Execute(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Counts.Total())
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, emitter.stages())
}

func TestRunAbortsAfterThreshold(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	emitter := &collectingEmitter{}
	d := newDispatcher(t, Config{
		DownloadWorkers:  1,
		SummarizeWorkers: 1,
		UpdateWorkers:    1,
		QueueDepth:       1,
		FailureThreshold: 2,
	}, Dependencies{
		Source:     stubSource{entries: entries(6)},
		Writer:     writer,
		Summarizer: &stubSummarizer{err: errors.New("model overloaded")},
		Emitter:    emitter,
	})

	report, err := d.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, report.Aborted)
	require.Equal(t, 6, report.Counts.Total())
	require.GreaterOrEqual(t, report.Counts.Failed, 2)
	require.Equal(t, report.Counts.Failed+report.Counts.Skipped, 6)
	require.Zero(t, writer.count())
	require.Equal(t, progress.StageRunAborted, emitter.last().Stage)
}

func TestRunWithoutRendererSummarizesFeedContent(t *testing.T) {
	t.Parallel()

	writer := &stubWriter{}
	d := newDispatcher(t, Config{}, Dependencies{
		Source:     stubSource{entries: entries(2)},
		Writer:     writer,
		Summarizer: &stubSummarizer{},
	})

	counts, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, runstate.Counts{Processed: 2}, counts)
	require.Contains(t, writer.writes[2], "Summary of")
	require.Contains(t, writer.writes[2], "body 2")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := newDispatcher(t, Config{}, Dependencies{
		Source:     stubSource{entries: entries(2)},
		Writer:     &stubWriter{},
		Summarizer: blockingSummarizer{},
	})

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Dependencies{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, Dependencies{Source: stubSource{}}, nil)
	require.Error(t, err)
	_, err = New(Config{}, Dependencies{Source: stubSource{}, Writer: &stubWriter{}}, nil)
	require.Error(t, err)
}

func TestRunRejectsMalformedRunID(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, Config{}, Dependencies{
		Source:     stubSource{},
		Writer:     &stubWriter{},
		Summarizer: &stubSummarizer{},
		IDs:        fixedIDs{id: "not-a-uuid"},
	})
	_, err := d.Run(context.Background())
	require.ErrorContains(t, err, "parse run id")
}

type blockingSummarizer struct{}

func (blockingSummarizer) Summarize(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func countStage(stages []progress.Stage, want progress.Stage) int {
	n := 0
	for _, s := range stages {
		if s == want {
			n++
		}
	}
	return n
}
