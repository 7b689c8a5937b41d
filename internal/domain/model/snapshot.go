// Package model contains domain models passed between layers.
package model

import "time"

// StreamSnapshot holds point-in-time metrics for one stream over the metrics window.
type StreamSnapshot struct {
	Stream       StreamIdentity
	Wins         int
	RacesCounted int
	PartialRaces int // windowed races finalized while incomplete that this stream reported in
	WinRate      float64
	HasLag       bool // false when no lag values are windowed; quantiles are then zero
	MeanLagNS    float64
	MinLagNS     int64
	MaxLagNS     int64
	MedianLagNS  int64
	P90NS        int64
	P95NS        int64
	P99NS        int64
}

// RefereeStats are the referee's counters. Totals are all-time.
type RefereeStats struct {
	Window           int    // race records currently tracked
	OldestSlot       uint64 // lowest tracked slot, zero when the window is empty
	NewestSlot       uint64 // highest tracked slot, zero when the window is empty
	Tracked          uint64 // distinct slots ever tracked
	Evicted          uint64 // records dropped from the window
	Accepted         uint64
	Late             uint64
	Duplicates       uint64
	UnknownStream    uint64
	Warmup           uint64
	MaxReached       uint64
	Completed        uint64
	PartialFinalized uint64
	PartialExcluded  uint64
	Done             bool
}

// MetricsSnapshot is an immutable copy of all stream metrics.
type MetricsSnapshot struct {
	RunID       string
	TakenAt     time.Time
	WindowRaces int // finalized races currently contributing
	Streams     []StreamSnapshot
	Referee     RefereeStats
}

// Stream returns the snapshot for an id.
func (m MetricsSnapshot) Stream(id StreamID) (StreamSnapshot, bool) {
	for _, s := range m.Streams {
		if s.Stream.ID == id {
			return s, true
		}
	}
	return StreamSnapshot{}, false
}
