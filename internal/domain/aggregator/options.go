package aggregator

import (
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithStreams sets the configured stream identities, in index order.
func WithStreams(streams []model.StreamIdentity) Option {
	return func(a *Aggregator) {
		a.streams = append([]model.StreamIdentity(nil), streams...)
	}
}

// WithWindow bounds how many races contribute at once. It matches the
// referee's max slots.
func WithWindow(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithRecentRaces sets how many finalized races are kept for Recent.
func WithRecentRaces(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.recentSize = n
		}
	}
}

// WithRunID stamps snapshots with a run identifier.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		a.runID = id
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}
