// Package queue is the event channel between stream workers and the engine.
//
// Many producers publish into one bounded buffer drained by a single
// consumer. Enqueue waits for space and never drops; TryEnqueue drops
// when full and is meant for events that may be lost under pressure.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/slotrace/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 65536
)

// Queue provides lossless and lossy enqueue with channel-based dequeue.
type Queue[T any] interface {
	// Enqueue blocks until v is buffered. Returns false only if ctx is
	// done or the queue is closed.
	Enqueue(ctx context.Context, v T) bool

	// TryEnqueue buffers v if there is room and reports whether it did.
	TryEnqueue(v T) bool

	// Dequeue returns the receive side. It is closed after Close once
	// every buffered value has been received.
	Dequeue() <-chan T

	// Len returns the current number of queued values.
	Len() int

	// Close stops accepting values. Buffered values remain readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	events   chan T
	capacity int
	gauges   bool

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option[T]) *InMemoryQueue[T] {
	q := &InMemoryQueue[T]{
		capacity: defaultCapacity,
		gauges:   true,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan T, q.capacity)

	if q.gauges {
		metrics.UpdateQueueCapacity(q.capacity)
		metrics.UpdateQueueSize(0)
	}
	return q
}

// Enqueue adds v to the queue, waiting for room when it is full.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	// Fast path.
	select {
	case q.events <- v:
		q.observe()
		return true
	default:
	}

	start := time.Now()
	select {
	case q.events <- v:
		metrics.RecordEnqueueWait(float64(time.Since(start).Milliseconds()))
		q.observe()
		return true
	case <-ctx.Done():
		return false
	case <-q.closing:
		return false
	}
}

// TryEnqueue adds v only if the queue has room.
func (q *InMemoryQueue[T]) TryEnqueue(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.events <- v:
		q.observe()
		return true
	default:
		return false
	}
}

// Dequeue returns the channel the consumer reads from.
func (q *InMemoryQueue[T]) Dequeue() <-chan T {
	return q.events
}

// Len returns the current number of queued values.
func (q *InMemoryQueue[T]) Len() int {
	size := len(q.events)
	if q.gauges {
		metrics.UpdateQueueSize(size)
	}
	return size
}

// Cap returns the queue capacity.
func (q *InMemoryQueue[T]) Cap() int { return q.capacity }

// Close stops accepting values and wakes producers blocked in Enqueue.
func (q *InMemoryQueue[T]) Close() error {
	// Release blocked producers before taking the write lock they hold shared.
	q.closeOnce.Do(func() { close(q.closing) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue[T]) observe() {
	if q.gauges {
		metrics.UpdateQueueSize(len(q.events))
	}
}
