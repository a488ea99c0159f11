// Package runstate holds the cross-worker state of a single pipeline run.
package runstate

import (
	"sync"
	"sync/atomic"
)

// Counts is the per-run tally reported when the pipeline drains.
type Counts struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Total returns the number of entries that reached a disposition.
func (c Counts) Total() int {
	return c.Processed + c.Skipped + c.Failed
}

// State owns the abort flag, the failure counter and the run counts. The
// abort flag moves from running to aborting once and never back.
type State struct {
	threshold int

	mu       sync.Mutex
	failures int
	counts   Counts

	aborted atomic.Bool
	onAbort func(failures int)
}

// New creates run state that aborts once failures reach threshold. A
// threshold <= 0 disables aborting.
func New(threshold int, onAbort func(failures int)) *State {
	return &State{threshold: threshold, onAbort: onAbort}
}

// RecordFailure increments the failure counter and flips the abort flag once
// the threshold is reached. It reports whether this call triggered the abort.
func (s *State) RecordFailure() bool {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	trip := s.threshold > 0 && failures >= s.threshold && !s.aborted.Load()
	if trip {
		s.aborted.Store(true)
	}
	s.mu.Unlock()

	if trip && s.onAbort != nil {
		s.onAbort(failures)
	}
	return trip
}

// Aborted reports whether the run stopped admitting new work.
func (s *State) Aborted() bool {
	return s.aborted.Load()
}

// Failures returns the current failure count.
func (s *State) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// AddProcessed increments the processed count.
func (s *State) AddProcessed() {
	s.mu.Lock()
	s.counts.Processed++
	s.mu.Unlock()
}

// AddSkipped increments the skipped count.
func (s *State) AddSkipped() {
	s.mu.Lock()
	s.counts.Skipped++
	s.mu.Unlock()
}

// AddFailed increments the failed count.
func (s *State) AddFailed() {
	s.mu.Lock()
	s.counts.Failed++
	s.mu.Unlock()
}

// Counts returns a snapshot of the tally.
func (s *State) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}
