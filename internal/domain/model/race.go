// Package model contains domain models passed between layers.
package model

// FinalizeCause says why a race was handed to the aggregator.
type FinalizeCause int

// Finalize causes.
const (
	CauseCompleted FinalizeCause = iota // every configured stream reported
	CauseEvicted                        // pushed out of the window while incomplete
	CauseDrained                        // still incomplete at shutdown
)

func (c FinalizeCause) String() string {
	switch c {
	case CauseCompleted:
		return "completed"
	case CauseEvicted:
		return "evicted"
	case CauseDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// RankedResult is one stream's result within a race.
type RankedResult struct {
	Stream      StreamID
	TimestampNS int64
	LagNS       int64 // time behind the winner; 0 for the winner
}

// RaceFinalized is the immutable view of a race pushed to the aggregator.
// Results are ordered by timestamp, ties by stream id.
type RaceFinalized struct {
	Slot     uint64
	Results  []RankedResult
	Complete bool
	Cause    FinalizeCause
}

// Winner returns the first ranked stream.
func (r RaceFinalized) Winner() (StreamID, bool) {
	if len(r.Results) == 0 {
		return 0, false
	}
	return r.Results[0].Stream, true
}

// LagOf returns the lag of a stream, if it reported.
func (r RaceFinalized) LagOf(id StreamID) (int64, bool) {
	for _, res := range r.Results {
		if res.Stream == id {
			return res.LagNS, true
		}
	}
	return 0, false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r RaceFinalized) Clone() RaceFinalized {
	out := r
	out.Results = append([]RankedResult(nil), r.Results...)
	return out
}
