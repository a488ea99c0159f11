// Package memory provides the bounded in-memory queues that connect pipeline stages.
package memory

import (
	"context"
	"fmt"
)

// Queue is a bounded FIFO with context-aware operations. Enqueue blocks while
// the queue is full, which is what gives the pipeline its backpressure.
// The queue is never closed: stages signal completion with in-band
// end-of-stream markers.
type Queue[T any] struct {
	ch chan T
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Receive exposes the receive side for callers that select on other signals.
func (q *Queue[T]) Receive() <-chan T {
	return q.ch
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
