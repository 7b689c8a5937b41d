// Package model contains domain models passed between layers.
package model

import "time"

// Clock stamps arrivals. All streams share one clock so timestamps compare fairly.
type Clock interface {
	NowNS() int64
}

// MonotonicClock reports nanoseconds elapsed since it was created, using
// the runtime's monotonic reading so wall-clock steps cannot reorder arrivals.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// NowNS implements Clock.
func (c *MonotonicClock) NowNS() int64 {
	return time.Since(c.start).Nanoseconds()
}

// Start returns the wall time the clock was created.
func (c *MonotonicClock) Start() time.Time { return c.start }
