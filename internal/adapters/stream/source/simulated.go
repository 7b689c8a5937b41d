package source

import (
	"context"
	"math/rand/v2"
	"time"
)

// Chain is a simulated slot clock shared by simulated sources so that every
// stream races for the same slot numbers.
type Chain struct {
	epoch    time.Time
	interval time.Duration
	first    uint64
}

// NewChain starts a chain producing slot first at epoch and one slot per interval.
func NewChain(epoch time.Time, interval time.Duration, first uint64) *Chain {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	return &Chain{epoch: epoch, interval: interval, first: first}
}

// SlotAt returns the slot produced at or before t.
func (c *Chain) SlotAt(t time.Time) uint64 {
	if t.Before(c.epoch) {
		return c.first
	}
	return c.first + uint64(t.Sub(c.epoch)/c.interval)
}

// Produced returns when slot was produced.
func (c *Chain) Produced(slot uint64) time.Time {
	if slot < c.first {
		return c.epoch
	}
	return c.epoch.Add(time.Duration(slot-c.first) * c.interval)
}

// SimSpec shapes a simulated stream's delivery.
type SimSpec struct {
	BaseDelay time.Duration // delay after production before delivery
	Jitter    time.Duration // uniform extra delay in [0, Jitter)
	DropRate  float64       // probability a slot is never delivered
	FailEvery int           // end the session after this many slots; 0 never fails
	Seed      uint64        // 0 picks a random seed
}

// SimulatedSource delivers chain slots after a configurable delay.
type SimulatedSource struct {
	chain *Chain
	spec  SimSpec
	rng   *rand.Rand
	next  uint64 // first slot the next session will report
}

// NewSimulatedSource builds a simulated source on chain.
func NewSimulatedSource(chain *Chain, spec SimSpec) *SimulatedSource {
	seed := spec.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &SimulatedSource{
		chain: chain,
		spec:  spec,
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Kind implements Source.
func (s *SimulatedSource) Kind() string { return KindSimulated }

// Run implements Source. Each session resumes at the chain's current slot,
// skipping whatever was produced while disconnected.
func (s *SimulatedSource) Run(ctx context.Context, obs Observer) error {
	slot := s.chain.SlotAt(time.Now()) + 1
	if slot < s.next {
		slot = s.next
	}
	obs.OnConnected(ctx)

	delivered := 0
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for ; ; slot++ {
		s.next = slot + 1
		if s.spec.DropRate > 0 && s.rng.Float64() < s.spec.DropRate {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		at := s.chain.Produced(slot).Add(s.delay())
		if wait := time.Until(at); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := obs.OnSlot(ctx, slot, obs.NowNS()); err != nil {
			return err
		}
		delivered++
		if s.spec.FailEvery > 0 && delivered >= s.spec.FailEvery {
			return ErrSimulatedFailure
		}
	}
}

func (s *SimulatedSource) delay() time.Duration {
	d := s.spec.BaseDelay
	if s.spec.Jitter > 0 {
		d += time.Duration(s.rng.Int64N(int64(s.spec.Jitter)))
	}
	return d
}
