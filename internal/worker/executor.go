package worker

import (
	"context"
	"fmt"
)

// Executor runs blocking collaborator calls on a bounded number of
// goroutines. Callers submit work and await the returned Future, so a stage
// worker never blocks on a call without also watching its context.
type Executor struct {
	slots    chan struct{}
	observer ExecutorObserver
}

// ExecutorObserver receives the slot occupancy each time a slot is taken or
// released.
type ExecutorObserver interface {
	ObserveExecutor(inFlight, size int)
}

// NewExecutor creates an executor with size concurrent slots (minimum 1).
func NewExecutor(size int) *Executor {
	if size < 1 {
		size = 1
	}
	return &Executor{slots: make(chan struct{}, size)}
}

// WithObserver reports occupancy changes to o. A nil o is ignored.
func (e *Executor) WithObserver(o ExecutorObserver) *Executor {
	e.observer = o
	return e
}

func (e *Executor) report() {
	if e.observer != nil {
		e.observer.ObserveExecutor(e.InFlight(), e.Size())
	}
}

// Size reports the number of slots.
func (e *Executor) Size() int {
	return cap(e.slots)
}

// InFlight reports how many calls currently hold a slot.
func (e *Executor) InFlight() int {
	return len(e.slots)
}

// Future is the pending result of a submitted call.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Submit schedules fn on e. The call waits for a free slot; if ctx ends
// first the future resolves with the context error and fn never runs.
func Submit[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			f.err = fmt.Errorf("executor slot wait canceled: %w", ctx.Err())
			return
		}
		e.report()
		defer func() {
			<-e.slots
			e.report()
		}()
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Await blocks until the call completes or ctx ends. An abandoned call keeps
// its slot until it returns.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("await canceled: %w", ctx.Err())
	}
}
