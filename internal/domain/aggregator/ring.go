package aggregator

import model "github.com/okian/slotrace/internal/domain/model"

// raceRing is a fixed-capacity FIFO of finalized races.
type raceRing struct {
	buf  []model.RaceFinalized
	head int // index of the oldest element
	n    int
}

func newRaceRing(capacity int) *raceRing {
	if capacity < 1 {
		capacity = 1
	}
	return &raceRing{buf: make([]model.RaceFinalized, capacity)}
}

// push appends race, overwriting the oldest element when full.
func (r *raceRing) push(race model.RaceFinalized) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = race
		r.n++
		return
	}
	r.buf[r.head] = race
	r.head = (r.head + 1) % len(r.buf)
}

// newest returns up to k races, most recent first.
func (r *raceRing) newest(k int) []model.RaceFinalized {
	if k <= 0 || k > r.n {
		k = r.n
	}
	out := make([]model.RaceFinalized, 0, k)
	for i := 0; i < k; i++ {
		idx := (r.head + r.n - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx].Clone())
	}
	return out
}

// slotHeap is a min-heap of counted slot numbers.
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
