package queue

// Option applies a configuration option to the InMemoryQueue.
type Option[T any] func(*InMemoryQueue[T])

// WithCapacity sets the maximum number of buffered values.
func WithCapacity[T any](capacity int) Option[T] {
	return func(q *InMemoryQueue[T]) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithGauges controls whether the queue reports its size and capacity
// gauges. Only one queue per process should report them.
func WithGauges[T any](enabled bool) Option[T] {
	return func(q *InMemoryQueue[T]) {
		q.gauges = enabled
	}
}
