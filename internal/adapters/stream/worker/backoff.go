package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth capped at Max, with
// a Jitter fraction of each delay drawn uniformly at random.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // 0 keeps delays exact, 1 is full jitter
}

// DefaultBackoff returns the delays used when none are configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Delay returns the wait before reconnect attempt n (starting at 1).
func (b Backoff) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if base > float64(b.Max) || math.IsInf(base, 0) || math.IsNaN(base) {
		base = float64(b.Max)
	}
	if b.Jitter <= 0 || rng == nil {
		return time.Duration(base)
	}
	j := math.Min(b.Jitter, 1)
	// Keep (1-j) of the delay and randomize the rest.
	d := base*(1-j) + base*j*rng.Float64()
	return time.Duration(d)
}

func (b Backoff) normalized() Backoff {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max < b.Initial {
		b.Max = max(def.Max, b.Initial)
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}
