// Package aggregator turns finalized races into per-stream win and lag metrics
// over the races still inside the referee's window.
package aggregator

import (
	"container/heap"
	"context"
	"time"

	"github.com/okian/slotrace/internal/domain/lagstats"
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
	"github.com/okian/slotrace/pkg/metrics"
)

// Reported quantiles.
const (
	P50 = 0.50
	P90 = 0.90
	P95 = 0.95
	P99 = 0.99
)

type streamMetrics struct {
	wins    int
	races   int
	partial int
	lags    *lagstats.Window
}

// Aggregator owns all per-stream metrics. Like the referee it has a single
// writer and is not safe for concurrent use.
type Aggregator struct {
	streams    []model.StreamIdentity
	window     int
	recentSize int
	runID      string
	log        logger.Logger

	per     []*streamMetrics
	counted map[uint64]model.RaceFinalized // races currently contributing, by slot
	order   slotHeap                       // counted slots; may hold retracted ones
	recent  *raceRing
}

// New constructs an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		window:     360,
		recentSize: 64,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("aggregator")
	}
	a.per = make([]*streamMetrics, len(a.streams))
	for i := range a.per {
		a.per[i] = &streamMetrics{lags: lagstats.New()}
	}
	a.counted = make(map[uint64]model.RaceFinalized, a.window+1)
	a.order = make(slotHeap, 0, a.window+1)
	a.recent = newRaceRing(a.recentSize)
	return a
}

// OnFinalized counts a race for every stream that reported in it. The
// referee retracts it through OnEvicted when it leaves the window; if more
// than the window's worth of races are ever counted, the lowest slot goes first.
func (a *Aggregator) OnFinalized(race model.RaceFinalized) {
	race = race.Clone()
	if old, ok := a.counted[race.Slot]; ok {
		a.anomaly("race counted twice", old.Slot)
		a.retract(old)
	}
	winner, hasWinner := race.Winner()
	for _, res := range race.Results {
		sm, ok := a.stream(res.Stream)
		if !ok {
			continue
		}
		label := a.streams[res.Stream].Label()
		sm.races++
		if !race.Complete {
			sm.partial++
		}
		if hasWinner && res.Stream == winner {
			sm.wins++
			metrics.RecordWin(label)
		}
		sm.lags.Insert(res.LagNS)
		metrics.ObserveLag(label, nsToMs(res.LagNS))
	}
	a.counted[race.Slot] = race
	heap.Push(&a.order, race.Slot)
	a.recent.push(race)

	for len(a.counted) > a.window {
		slot := heap.Pop(&a.order).(uint64)
		if old, ok := a.counted[slot]; ok {
			a.retract(old)
		}
	}
}

// OnEvicted removes a previously counted race from the metrics. The values
// retracted are the ones counted for that slot, whatever race carries.
func (a *Aggregator) OnEvicted(race model.RaceFinalized) {
	old, ok := a.counted[race.Slot]
	if !ok {
		a.anomaly("evicted race was never counted", race.Slot)
		return
	}
	a.retract(old)
	// The referee evicts lowest slot first, so retracted slots surface at the top.
	for len(a.order) > 0 {
		if _, live := a.counted[a.order[0]]; live {
			break
		}
		heap.Pop(&a.order)
	}
}

func (a *Aggregator) retract(race model.RaceFinalized) {
	delete(a.counted, race.Slot)
	winner, hasWinner := race.Winner()
	for _, res := range race.Results {
		sm, ok := a.stream(res.Stream)
		if !ok {
			continue
		}
		sm.races--
		if !race.Complete {
			sm.partial--
		}
		if hasWinner && res.Stream == winner {
			sm.wins--
		}
		if !sm.lags.Remove(res.LagNS) {
			metrics.RecordStatsAnomaly()
			a.log.Warn(context.Background(), "retracted lag not present in window",
				logger.String("stream", a.streams[res.Stream].Label()),
				logger.Uint64("slot", race.Slot),
				logger.Int64("lag_ns", res.LagNS),
			)
		}
	}
	metrics.RecordRetraction()
}

func (a *Aggregator) anomaly(msg string, slot uint64) {
	metrics.RecordStatsAnomaly()
	a.log.Warn(context.Background(), msg, logger.Uint64("slot", slot))
}

// Recent returns up to n finalized races, most recent first. n <= 0 returns all kept races.
func (a *Aggregator) Recent(n int) []model.RaceFinalized {
	return a.recent.newest(n)
}

// Snapshot copies the current metrics and refreshes the derived gauges.
func (a *Aggregator) Snapshot() model.MetricsSnapshot {
	snap := model.MetricsSnapshot{
		RunID:       a.runID,
		TakenAt:     time.Now(),
		WindowRaces: len(a.counted),
		Streams:     make([]model.StreamSnapshot, len(a.per)),
	}
	for i, sm := range a.per {
		s := model.StreamSnapshot{
			Stream:       a.streams[i],
			Wins:         sm.wins,
			RacesCounted: sm.races,
			PartialRaces: sm.partial,
		}
		if sm.races > 0 {
			s.WinRate = float64(sm.wins) / float64(sm.races)
		}
		if mean, ok := sm.lags.Mean(); ok {
			s.HasLag = true
			s.MeanLagNS = mean
			s.MinLagNS, _ = sm.lags.Min()
			s.MaxLagNS, _ = sm.lags.Max()
			s.MedianLagNS, _ = sm.lags.Quantile(P50)
			s.P90NS, _ = sm.lags.Quantile(P90)
			s.P95NS, _ = sm.lags.Quantile(P95)
			s.P99NS, _ = sm.lags.Quantile(P99)
		}
		snap.Streams[i] = s
		publish(s)
	}
	return snap
}

func (a *Aggregator) stream(id model.StreamID) (*streamMetrics, bool) {
	if int(id) < 0 || int(id) >= len(a.per) {
		return nil, false
	}
	return a.per[id], true
}

func publish(s model.StreamSnapshot) {
	label := s.Stream.Label()
	metrics.UpdateWinRate(label, s.WinRate)
	if !s.HasLag {
		return
	}
	metrics.UpdateLagQuantile(label, "0.5", nsToMs(s.MedianLagNS))
	metrics.UpdateLagQuantile(label, "0.9", nsToMs(s.P90NS))
	metrics.UpdateLagQuantile(label, "0.95", nsToMs(s.P95NS))
	metrics.UpdateLagQuantile(label, "0.99", nsToMs(s.P99NS))
}

func nsToMs(ns int64) float64 {
	return float64(ns) / float64(time.Millisecond)
}
