package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/entrhq/rednote/pkg/types"
)

// DefaultEventBuffer is the capacity of a task's event channel.
const DefaultEventBuffer = 256

// Task is a running operation. Its outcome is available once Done is closed.
type Task[T any] struct {
	id string
	op string

	done    chan struct{}
	outcome types.Outcome[T]

	mu      sync.Mutex
	events  chan *types.Event
	closed  bool
	dropped atomic.Int64
}

func newTask[T any](op string, buffer int) *Task[T] {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Task[T]{
		id:     uuid.NewString(),
		op:     op,
		done:   make(chan struct{}),
		events: make(chan *types.Event, buffer),
	}
}

// ID identifies the task in logs and traces.
func (t *Task[T]) ID() string { return t.id }

// Operation returns the operation name, e.g. "search".
func (t *Task[T]) Operation() string { return t.op }

// Done is closed when the outcome is available.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Events streams log, progress and note events. The channel is closed when
// the task completes. Events that do not fit the buffer are dropped.
func (t *Task[T]) Events() <-chan *types.Event { return t.events }

// Dropped returns how many events were discarded because the buffer was full.
func (t *Task[T]) Dropped() int64 { return t.dropped.Load() }

// Wait blocks until the task completes or ctx is done. Giving up on ctx does
// not stop the task; the returned outcome is then Failed with ctx's error.
func (t *Task[T]) Wait(ctx context.Context) types.Outcome[T] {
	select {
	case <-t.done:
		return t.outcome
	case <-ctx.Done():
		return types.Failed[T](fmt.Errorf("wait for %s task: %w", t.op, context.Cause(ctx)))
	}
}

// Outcome returns the outcome and whether the task has completed.
func (t *Task[T]) Outcome() (types.Outcome[T], bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return types.Outcome[T]{}, false
	}
}

// emit never blocks the operation.
func (t *Task[T]) emit(e *types.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- e:
	default:
		t.dropped.Add(1)
	}
}

func (t *Task[T]) complete(o types.Outcome[T]) {
	t.mu.Lock()
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	t.outcome = o
	close(t.done)
}
