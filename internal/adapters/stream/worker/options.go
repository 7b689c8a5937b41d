package worker

import (
	"github.com/okian/slotrace/pkg/logger"
)

// Option applies a configuration option to the StreamWorker.
type Option func(*StreamWorker)

// WithBackoff sets the reconnect backoff.
func WithBackoff(b Backoff) Option {
	return func(w *StreamWorker) {
		w.backoff = b.normalized()
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *StreamWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLifecycle sets where lifecycle events are published. Publishing never blocks.
func WithLifecycle(sink LifecycleSink) Option {
	return func(w *StreamWorker) {
		w.lifecycle = sink
	}
}

// WithSeed makes jitter deterministic.
func WithSeed(seed uint64) Option {
	return func(w *StreamWorker) {
		w.seed = seed
	}
}
