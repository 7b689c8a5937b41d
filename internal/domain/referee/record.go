package referee

import (
	"sort"

	model "github.com/okian/slotrace/internal/domain/model"
)

// raceRecord tracks one slot's arrivals.
// A record is Partial from its first arrival and Complete once every
// configured stream has reported; finalized flips exactly once.
type raceRecord struct {
	slot      uint64
	arrivals  []int64 // indexed by StreamID
	present   []bool
	reported  int
	winner    model.StreamID
	winnerTS  int64
	finalized bool
	cause     model.FinalizeCause
	counted   bool // handed to the sink, so eviction must retract it
}

func newRaceRecord(slot uint64, streams int) *raceRecord {
	return &raceRecord{
		slot:     slot,
		arrivals: make([]int64, streams),
		present:  make([]bool, streams),
	}
}

// add records a first-seen arrival and reports false for a duplicate.
func (r *raceRecord) add(id model.StreamID, ts int64) bool {
	if r.present[id] {
		return false
	}
	r.present[id] = true
	r.arrivals[id] = ts
	if r.reported == 0 || ts < r.winnerTS || (ts == r.winnerTS && id < r.winner) {
		r.winner = id
		r.winnerTS = ts
	}
	r.reported++
	return true
}

func (r *raceRecord) complete() bool {
	return r.reported == len(r.present)
}

// view builds the ranked, immutable result handed to the aggregator.
func (r *raceRecord) view(cause model.FinalizeCause) model.RaceFinalized {
	results := make([]model.RankedResult, 0, r.reported)
	for i, ok := range r.present {
		if !ok {
			continue
		}
		results = append(results, model.RankedResult{
			Stream:      model.StreamID(i),
			TimestampNS: r.arrivals[i],
			LagNS:       r.arrivals[i] - r.winnerTS,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TimestampNS != results[j].TimestampNS {
			return results[i].TimestampNS < results[j].TimestampNS
		}
		return results[i].Stream < results[j].Stream
	})
	return model.RaceFinalized{
		Slot:     r.slot,
		Results:  results,
		Complete: r.complete(),
		Cause:    cause,
	}
}

// slotHeap is a min-heap of tracked slot numbers; the root is the oldest race.
type slotHeap []uint64

func (h slotHeap) Len() int           { return len(h) }
func (h slotHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h slotHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *slotHeap) Push(x any) { *h = append(*h, x.(uint64)) }

func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
