package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/minigist/internal/progress"
)

const metricsNamespace = "minigist"

// PrometheusSink exports pipeline progress via Prometheus. It owns the
// collectors for runs started/completed/running and per-entry outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	entries        *prometheus.CounterVec
	writtenBytes   prometheus.Counter
	updateDuration prometheus.Histogram
	workersDone    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_started_total",
			Help:      "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_completed_total",
			Help:      "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "runs_running",
			Help:      "Current number of running pipeline runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_runtime_seconds",
			Help:      "Wall time per completed run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entries_total",
			Help:      "Entries that reached a disposition partitioned by outcome.",
		}, []string{"disposition"}),
		writtenBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "written_bytes_total",
			Help:      "Bytes of enriched content written back to the feed reader.",
		}),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "update_duration_seconds",
			Help:      "Time spent rendering and writing back one entry.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		workersDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workers_finished_total",
			Help:      "Stage workers that emitted their end-of-stream marker.",
		}, []string{"step"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.entries,
		s.writtenBytes,
		s.updateDuration,
		s.workersDone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone, progress.StageRunAborted, progress.StageRunError:
		result := runResult(evt.Stage)
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageEntryDone:
		s.entries.WithLabelValues(evt.Disposition).Inc()
		if evt.Bytes > 0 {
			s.writtenBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.updateDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageWorkerDone:
		s.workersDone.WithLabelValues(evt.Step).Inc()
	}
}

func runResult(stage progress.Stage) string {
	switch stage {
	case progress.StageRunAborted:
		return "aborted"
	case progress.StageRunError:
		return "error"
	default:
		return "success"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
