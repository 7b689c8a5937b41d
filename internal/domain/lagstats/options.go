package lagstats

import "math/rand/v2"

// Option configures a Window.
type Option func(*Window)

// WithSeed makes node priorities deterministic. Used by tests and benchmarks.
func WithSeed(seed uint64) Option {
	return func(w *Window) {
		w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}
