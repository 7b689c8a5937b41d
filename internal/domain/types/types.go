// Package types contains the JSON shapes served by the HTTP API
package types

import (
	"time"

	model "github.com/okian/slotrace/internal/domain/model"
)

// StreamStats is one stream's windowed race metrics.
type StreamStats struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Wins         int      `json:"wins"`
	RacesCounted int      `json:"races_counted"`
	PartialRaces int      `json:"partial_races"`
	WinRate      float64  `json:"win_rate"`
	MeanLagNS    *float64 `json:"mean_lag_ns"`
	MinLagNS     *int64   `json:"min_lag_ns"`
	MaxLagNS     *int64   `json:"max_lag_ns"`
	MedianLagNS  *int64   `json:"median_lag_ns"`
	P90NS        *int64   `json:"p90_ns"`
	P95NS        *int64   `json:"p95_ns"`
	P99NS        *int64   `json:"p99_ns"`
}

// Snapshot is the response body of GET /snapshot.
type Snapshot struct {
	RunID       string        `json:"run_id"`
	TakenAt     time.Time     `json:"taken_at"`
	WindowRaces int           `json:"window_races"`
	Done        bool          `json:"done"`
	Streams     []StreamStats `json:"streams"`
}

// Result is one stream's placing in a race.
type Result struct {
	Rank        int    `json:"rank"`
	Stream      string `json:"stream"`
	TimestampNS int64  `json:"timestamp_ns"`
	LagNS       int64  `json:"lag_ns"`
}

// Race is a finalized race as served by GET /races.
type Race struct {
	Slot     uint64   `json:"slot"`
	Complete bool     `json:"complete"`
	Cause    string   `json:"cause"`
	Winner   string   `json:"winner"`
	Results  []Result `json:"results"`
}

// StreamStatus is a stream's identity and connection state.
type StreamStatus struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Attempt     int       `json:"attempt,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastChanged time.Time `json:"last_changed,omitzero"`
}

// FromSnapshot converts a metrics snapshot. Lag fields are null for streams
// with no windowed lag values.
func FromSnapshot(s model.MetricsSnapshot) Snapshot {
	out := Snapshot{
		RunID:       s.RunID,
		TakenAt:     s.TakenAt,
		WindowRaces: s.WindowRaces,
		Done:        s.Referee.Done,
		Streams:     make([]StreamStats, 0, len(s.Streams)),
	}
	for _, st := range s.Streams {
		row := StreamStats{
			ID:           int(st.Stream.ID),
			Name:         st.Stream.Label(),
			Wins:         st.Wins,
			RacesCounted: st.RacesCounted,
			PartialRaces: st.PartialRaces,
			WinRate:      st.WinRate,
		}
		if st.HasLag {
			mean, lo, hi := st.MeanLagNS, st.MinLagNS, st.MaxLagNS
			med, p90, p95, p99 := st.MedianLagNS, st.P90NS, st.P95NS, st.P99NS
			row.MeanLagNS, row.MinLagNS, row.MaxLagNS = &mean, &lo, &hi
			row.MedianLagNS, row.P90NS, row.P95NS, row.P99NS = &med, &p90, &p95, &p99
		}
		out.Streams = append(out.Streams, row)
	}
	return out
}

// FromRace converts a finalized race, naming streams from ids.
func FromRace(r model.RaceFinalized, ids []model.StreamIdentity) Race {
	name := func(id model.StreamID) string {
		if int(id) >= 0 && int(id) < len(ids) {
			return ids[id].Label()
		}
		return model.StreamIdentity{ID: id}.Label()
	}
	out := Race{
		Slot:     r.Slot,
		Complete: r.Complete,
		Cause:    r.Cause.String(),
		Results:  make([]Result, 0, len(r.Results)),
	}
	if w, ok := r.Winner(); ok {
		out.Winner = name(w)
	}
	for i, res := range r.Results {
		out.Results = append(out.Results, Result{
			Rank:        i + 1,
			Stream:      name(res.Stream),
			TimestampNS: res.TimestampNS,
			LagNS:       res.LagNS,
		})
	}
	return out
}
