// Package worker implements the stage workers of the summarization pipeline.
//
// Stages are connected by bounded queues of gist.Message. Every worker emits
// exactly one end-of-stream marker when it finishes. A stage counts the
// markers it receives against the concurrency of the upstream stage; once all
// of them have arrived, each of its own workers emits one marker downstream
// and exits.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/queue/memory"
	"github.com/JakeFAU/minigist/internal/runstate"
)

// Pipeline step names used in logs and progress events.
const (
	StepFetch     = "fetch"
	StepDownload  = "download"
	StepSummarize = "summarize"
	StepUpdate    = "update"
)

// Queue is the message queue connecting two stages.
type Queue = memory.Queue[gist.Message]

// NewQueue builds a bounded stage queue.
func NewQueue(capacity int) *Queue {
	return memory.NewQueue[gist.Message](capacity)
}

// eosTracker counts end-of-stream markers for one stage.
type eosTracker struct {
	expected int32
	seen     atomic.Int32
	done     chan struct{}
	once     sync.Once
}

func newEOSTracker(expected int) *eosTracker {
	if expected < 1 {
		expected = 1
	}
	return &eosTracker{expected: int32(expected), done: make(chan struct{})}
}

// observe records one marker and reports whether it was the last one.
func (t *eosTracker) observe() bool {
	if t.seen.Add(1) < t.expected {
		return false
	}
	t.once.Do(func() { close(t.done) })
	return true
}

func (t *eosTracker) Done() <-chan struct{} {
	return t.done
}

// Reporter emits progress events for one run.
type Reporter struct {
	runID   [16]byte
	emitter progress.Emitter
	clock   gist.Clock
}

// NewReporter binds an emitter to a run.
func NewReporter(runID [16]byte, emitter progress.Emitter, clock gist.Clock) *Reporter {
	if emitter == nil {
		emitter = progress.Discard{}
	}
	return &Reporter{runID: runID, emitter: emitter, clock: clock}
}

func (r *Reporter) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

// Emit stamps evt with the run ID and time and publishes it.
func (r *Reporter) Emit(evt progress.Event) {
	if r == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}

func (r *Reporter) workerDone(step string) {
	r.Emit(progress.Event{Stage: progress.StageWorkerDone, Step: step})
}

// handler processes one data item. A returned error is fatal to the worker
// (it only happens when the run context ends).
type handler func(ctx context.Context, item gist.Item) (gist.Item, error)

// stageLoop is the receive loop shared by the download, summarize and update
// stages.
type stageLoop struct {
	step     string
	in       *Queue
	out      *Queue
	tracker  *eosTracker
	state    *runstate.State
	reporter *Reporter
	logger   *zap.Logger
	handle   handler
}

func newStageLoop(
	step string,
	in, out *Queue,
	upstream int,
	state *runstate.State,
	reporter *Reporter,
	logger *zap.Logger,
	handle handler,
) *stageLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stageLoop{
		step:     step,
		in:       in,
		out:      out,
		tracker:  newEOSTracker(upstream),
		state:    state,
		reporter: reporter,
		logger:   logger,
		handle:   handle,
	}
}

// run consumes messages until every upstream worker has signalled end of
// stream, then emits this worker's own marker.
func (s *stageLoop) run(ctx context.Context, workerID int) error {
	logger := s.logger.With(zap.Int("worker", workerID))
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s worker %d: %w", s.step, workerID, ctx.Err())
		case <-s.tracker.Done():
			return s.finish(ctx, logger)
		case msg := <-s.in.Receive():
			if msg.EOS {
				if s.tracker.observe() {
					logger.Debug("all upstream workers finished", zap.Int("backlog", s.in.Len()))
				}
				continue
			}
			item, err := s.process(ctx, msg.Item, logger)
			if err != nil {
				return err
			}
			if s.out == nil {
				continue
			}
			if err := s.out.Enqueue(ctx, gist.ItemMessage(item)); err != nil {
				return fmt.Errorf("%s worker %d forward: %w", s.step, workerID, err)
			}
		}
	}
}

func (s *stageLoop) process(ctx context.Context, item gist.Item, logger *zap.Logger) (gist.Item, error) {
	if item.Failed() || item.Skipped() {
		if s.out != nil {
			return item, nil
		}
		return s.handle(ctx, item)
	}
	if s.state.Aborted() {
		logger.Debug("draining item after abort", item.Log.Fields()...)
		item.SkipReason = gist.SkipAborted
		if s.out != nil {
			return item, nil
		}
	}
	return s.handle(ctx, item)
}

func (s *stageLoop) finish(ctx context.Context, logger *zap.Logger) error {
	if s.out != nil {
		if err := s.out.Enqueue(ctx, gist.EndOfStream()); err != nil {
			return fmt.Errorf("%s emit end of stream: %w", s.step, err)
		}
	}
	logger.Debug("worker finished")
	s.reporter.workerDone(s.step)
	return nil
}
