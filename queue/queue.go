// Package queue provides blocking queues for single-consumer pipeline stages.
//
// A [Queue] owns a [Store] that decides dispatch order: [FIFO] for arrival
// order, [Sorted] for comparator order with duplicate rejection. Producers
// never block; a consumer blocks in [Queue.Pop] until a value is available,
// the queue is closed, or its context is done.
//
// Capacity is explicit. Zero means unbounded, which is the default used by
// the transport pipeline; a positive capacity makes Push fail with [ErrFull].
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Push after Close and by Pop once a closed queue is empty.
	ErrClosed = errors.New("queue: closed")

	// ErrFull is returned by Push when a bounded queue is at capacity.
	ErrFull = errors.New("queue: full")
)

// Store holds queued values and decides which one is next.
// Stores are not safe for concurrent use; Queue serializes access.
type Store[T any] interface {
	// Add inserts v. Returns false if the store rejected v as a duplicate.
	Add(v T) bool
	// Next removes and returns the next value in dispatch order.
	Next() (T, bool)
	// Len returns the number of stored values.
	Len() int
	// Drain removes and returns all values in dispatch order.
	Drain() []T
}

// Queue is a blocking queue over a Store.
type Queue[T any] struct {
	mu       sync.Mutex
	store    Store[T]
	capacity int
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

// New creates a queue over store. A capacity <= 0 means unbounded.
func New[T any](store Store[T], capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		store:    store,
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// NewFIFOQueue creates an arrival-ordered queue.
func NewFIFOQueue[T any](capacity int) *Queue[T] {
	return New[T](NewFIFO[T](), capacity)
}

// Push adds v without blocking. It reports false if the store rejected v as
// a duplicate, which is not an error.
func (q *Queue[T]) Push(v T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	if q.capacity > 0 && q.store.Len() >= q.capacity {
		return false, ErrFull
	}
	if !q.store.Add(v) {
		return false, nil
	}
	q.signal()
	return true, nil
}

// Pop removes the next value, blocking while the queue is empty.
// Values still queued at Close are returned before ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.store.Next(); ok {
			if q.store.Len() > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the next value if one is available.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Next()
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Len()
}

// Cap returns the capacity; 0 means unbounded.
func (q *Queue[T]) Cap() int { return q.capacity }

// Drain removes and returns all queued values.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Drain()
}

// Close stops accepting values and wakes blocked consumers. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// signal must be called with mu held.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
