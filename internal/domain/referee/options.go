package referee

import (
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
)

// Option applies a configuration option to the Referee.
type Option func(*Referee)

// WithMaxSlots sets the window capacity. Values below 1 are ignored.
func WithMaxSlots(n int) Option {
	return func(r *Referee) {
		if n > 0 {
			r.maxSlots = n
		}
	}
}

// WithEvictionPolicy selects rolling or stop-at-max tracking.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(r *Referee) {
		if p != "" {
			r.policy = p
		}
	}
}

// WithPartialPolicy selects whether incomplete races reach the aggregator.
func WithPartialPolicy(p PartialPolicy) Option {
	return func(r *Referee) {
		if p != "" {
			r.partial = p
		}
	}
}

// WithWarmupSlots ignores the first n distinct slots observed.
func WithWarmupSlots(n int) Option {
	return func(r *Referee) {
		if n > 0 {
			r.warmupSlots = n
		}
	}
}

// WithStreams sets the configured stream identities, in index order.
func WithStreams(streams []model.StreamIdentity) Option {
	return func(r *Referee) {
		r.streams = append([]model.StreamIdentity(nil), streams...)
	}
}

// WithSink sets the receiver of finalized races.
func WithSink(s Sink) Option {
	return func(r *Referee) {
		r.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Referee) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRaceLogging logs every finalized race at info level when enabled,
// at debug level otherwise.
func WithRaceLogging(enabled bool) Option {
	return func(r *Referee) {
		r.logRaces = enabled
	}
}
