// Package referee decides slot races: it owns the window of race records,
// determines winners and lags, and finalizes each race exactly once.
package referee

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"

	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
	"github.com/okian/slotrace/pkg/metrics"
)

// EvictionPolicy controls what happens when the window is full.
type EvictionPolicy string

// Eviction policies.
const (
	PolicyRolling   EvictionPolicy = "rolling"     // evict the oldest race and keep going
	PolicyStopAtMax EvictionPolicy = "stop_at_max" // stop tracking new slots
)

// PartialPolicy controls whether incomplete races are counted.
type PartialPolicy string

// Partial race policies.
const (
	PartialCount   PartialPolicy = "count"
	PartialExclude PartialPolicy = "exclude"
)

// Outcome classifies what RecordArrival did with an event.
type Outcome int

// Arrival outcomes.
const (
	OutcomeAccepted Outcome = iota
	OutcomeCompleted
	OutcomeLate
	OutcomeDuplicate
	OutcomeUnknownStream
	OutcomeWarmup
	OutcomeMaxReached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeCompleted:
		return "completed"
	case OutcomeLate:
		return "late"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnknownStream:
		return "unknown_stream"
	case OutcomeWarmup:
		return "warmup"
	case OutcomeMaxReached:
		return "max_reached"
	default:
		return "unknown"
	}
}

// Sink receives finalized races, and is told when a race it received
// leaves the window so its contribution can be retracted.
type Sink interface {
	OnFinalized(race model.RaceFinalized)
	OnEvicted(race model.RaceFinalized)
}

// Referee is the single writer of race state. It is not safe for
// concurrent use; callers serialize access through one goroutine.
type Referee struct {
	streams     []model.StreamIdentity
	maxSlots    int
	policy      EvictionPolicy
	partial     PartialPolicy
	warmupSlots int
	sink        Sink
	log         logger.Logger
	logRaces    bool

	records map[uint64]*raceRecord
	order   slotHeap
	open    int // tracked records not yet finalized
	newest  uint64

	evictedAny     bool
	highestEvicted uint64

	warmupSeen map[uint64]struct{}
	warmupHigh uint64

	stats model.RefereeStats
}

// New constructs a Referee. Streams must be configured with WithStreams.
func New(opts ...Option) *Referee {
	r := &Referee{
		maxSlots: 360,
		policy:   PolicyRolling,
		partial:  PartialCount,
		logRaces: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("referee")
	}
	r.records = make(map[uint64]*raceRecord, r.maxSlots+1)
	r.order = make(slotHeap, 0, r.maxSlots+1)
	if r.warmupSlots > 0 {
		r.warmupSeen = make(map[uint64]struct{}, r.warmupSlots)
	}
	return r
}

// Streams returns the configured identities.
func (r *Referee) Streams() []model.StreamIdentity {
	return append([]model.StreamIdentity(nil), r.streams...)
}

// Len returns the number of race records in the window.
func (r *Referee) Len() int { return len(r.records) }

// Stats returns a copy of the referee counters.
func (r *Referee) Stats() model.RefereeStats {
	s := r.stats
	s.Window = len(r.records)
	if len(r.order) > 0 {
		s.OldestSlot = r.order[0]
		s.NewestSlot = r.newest
	}
	s.Done = r.Done()
	return s
}

// Done reports whether a stop-at-max run has nothing left to decide:
// the window is full and every tracked race is finalized.
func (r *Referee) Done() bool {
	return r.policy == PolicyStopAtMax && len(r.records) >= r.maxSlots && r.open == 0
}

// RecordArrival applies one arrival event to the window.
func (r *Referee) RecordArrival(ctx context.Context, ev model.ArrivalEvent) Outcome {
	if int(ev.Stream) < 0 || int(ev.Stream) >= len(r.streams) {
		r.stats.UnknownStream++
		metrics.RecordUnknownStream()
		r.log.Warn(ctx, "arrival from unknown stream", logger.Int("stream", int(ev.Stream)), logger.Uint64("slot", ev.Slot))
		return OutcomeUnknownStream
	}
	label := r.streams[ev.Stream].Label()
	metrics.RecordArrival(label)

	if r.inWarmup(ev.Slot) {
		r.stats.Warmup++
		metrics.RecordIgnoredArrival(OutcomeWarmup.String())
		return OutcomeWarmup
	}

	rec, ok := r.records[ev.Slot]
	if !ok {
		if r.isLate(ev.Slot) {
			r.stats.Late++
			metrics.RecordLateArrival()
			r.log.Debug(ctx, "late arrival dropped",
				logger.String("stream", label),
				logger.Uint64("slot", ev.Slot),
				logger.Uint64("highest_evicted", r.highestEvicted),
			)
			return OutcomeLate
		}
		if r.policy == PolicyStopAtMax && len(r.records) >= r.maxSlots {
			r.stats.MaxReached++
			metrics.RecordIgnoredArrival(OutcomeMaxReached.String())
			return OutcomeMaxReached
		}
		rec = newRaceRecord(ev.Slot, len(r.streams))
		r.records[ev.Slot] = rec
		heap.Push(&r.order, ev.Slot)
		if ev.Slot > r.newest {
			r.newest = ev.Slot
		}
		r.open++
		r.stats.Tracked++
	}

	if !rec.add(ev.Stream, ev.TimestampNS) {
		r.stats.Duplicates++
		metrics.RecordDuplicateArrival()
		r.log.Debug(ctx, "duplicate arrival ignored", logger.String("stream", label), logger.Uint64("slot", ev.Slot))
		return OutcomeDuplicate
	}
	r.stats.Accepted++

	outcome := OutcomeAccepted
	if rec.complete() {
		r.finalize(ctx, rec, model.CauseCompleted)
		outcome = OutcomeCompleted
	}
	if r.policy == PolicyRolling {
		r.maybeEvict(ctx)
	}
	metrics.UpdateWindowSize(len(r.records))
	return outcome
}

// Flush finalizes every race still open, oldest first, and returns how
// many it finalized. Used when draining at shutdown.
func (r *Referee) Flush(ctx context.Context) int {
	if r.open == 0 {
		return 0
	}
	slots := make([]uint64, 0, r.open)
	for slot, rec := range r.records {
		if !rec.finalized {
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for _, slot := range slots {
		r.finalize(ctx, r.records[slot], model.CauseDrained)
	}
	return len(slots)
}

func (r *Referee) inWarmup(slot uint64) bool {
	if r.warmupSlots == 0 {
		return false
	}
	if len(r.warmupSeen) < r.warmupSlots {
		if _, ok := r.warmupSeen[slot]; !ok {
			r.warmupSeen[slot] = struct{}{}
			if slot > r.warmupHigh {
				r.warmupHigh = slot
			}
		}
		return true
	}
	return slot <= r.warmupHigh
}

// isLate reports whether an untracked slot falls below the retained floor.
func (r *Referee) isLate(slot uint64) bool {
	if r.evictedAny && slot <= r.highestEvicted {
		return true
	}
	if r.policy == PolicyRolling && len(r.records) >= r.maxSlots && len(r.order) > 0 && slot < r.order[0] {
		return true
	}
	return false
}

// maybeEvict drops the oldest races until the window fits, finalizing any
// that never completed. Every dropped race the sink counted is retracted,
// so the sink only ever reflects races still in the window.
func (r *Referee) maybeEvict(ctx context.Context) {
	for len(r.records) > r.maxSlots {
		slot := heap.Pop(&r.order).(uint64)
		rec := r.records[slot]
		delete(r.records, slot)
		if !r.evictedAny || slot > r.highestEvicted {
			r.highestEvicted = slot
		}
		r.evictedAny = true
		r.stats.Evicted++
		if !rec.finalized {
			r.finalize(ctx, rec, model.CauseEvicted)
		}
		if rec.counted && r.sink != nil {
			r.sink.OnEvicted(rec.view(rec.cause))
		}
	}
}

func (r *Referee) finalize(ctx context.Context, rec *raceRecord, cause model.FinalizeCause) {
	if rec.finalized {
		return
	}
	rec.finalized = true
	rec.cause = cause
	r.open--

	race := rec.view(cause)
	if race.Complete {
		r.stats.Completed++
	} else if r.partial == PartialExclude {
		r.stats.PartialExcluded++
		r.log.Debug(ctx, "partial race excluded",
			logger.Uint64("slot", rec.slot),
			logger.Int("reported", rec.reported),
			logger.String("cause", cause.String()),
		)
		return
	} else {
		r.stats.PartialFinalized++
	}
	metrics.RecordRaceFinalized(race.Complete)
	r.logRace(ctx, race)
	if r.sink != nil {
		rec.counted = true
		r.sink.OnFinalized(race)
	}
}

func (r *Referee) logRace(ctx context.Context, race model.RaceFinalized) {
	var b strings.Builder
	for i, res := range race.Results {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s@%d(+%d)", r.streams[res.Stream].Label(), res.TimestampNS, res.LagNS)
	}
	winner, _ := race.Winner()
	fields := []logger.Field{
		logger.Uint64("slot", race.Slot),
		logger.String("winner", r.streams[winner].Label()),
		logger.Bool("complete", race.Complete),
		logger.String("cause", race.Cause.String()),
		logger.String("results", b.String()),
	}
	if r.logRaces {
		r.log.Info(ctx, "race finalized", fields...)
		return
	}
	r.log.Debug(ctx, "race finalized", fields...)
}
