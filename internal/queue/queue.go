// Package queue provides an unbounded, closable FIFO that lets consumers
// block until data arrives instead of polling.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when pushing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Reader is the consumer side of a Queue. Producers own Push and Close.
type Reader[T any] interface {
	// Drain removes and returns everything currently queued.
	Drain() []T
	// Ready returns a channel that is closed once the queue holds data or
	// has been closed.
	Ready() <-chan struct{}
	// Closed reports whether the producer has closed the queue.
	Closed() bool
	// Done returns a channel that is closed once the queue has been closed
	// and every item drained.
	Done() <-chan struct{}
}

// Queue is safe for one writer and any number of readers.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
	done   chan struct{}
}

var closedCh = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// New returns an empty, open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Push appends items and wakes any waiting readers.
func (q *Queue[T]) Push(items ...T) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, items...)
	q.wakeLocked()
	return nil
}

// Close marks the queue closed for writing. Queued items remain readable.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
	if len(q.items) == 0 {
		close(q.done)
	}
}

func (q *Queue[T]) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Drain implements Reader.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if q.closed && len(out) > 0 {
		close(q.done)
	}
	return out
}

// Ready implements Reader.
func (q *Queue[T]) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 || q.closed {
		return closedCh
	}
	return q.signal
}

// Done implements Reader.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed implements Reader.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Wait blocks until r is ready or ctx is done.
func Wait[T any](ctx context.Context, r Reader[T]) error {
	select {
	case <-r.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDone reports whether r is closed and drained without blocking.
func IsDone[T any](r Reader[T]) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}
