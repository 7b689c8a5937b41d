// Package report turns metrics snapshots into the periodic race summary.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
)

// Line is one stream's row in a summary.
type Line struct {
	Stream  model.StreamIdentity
	Wins    int
	Races   int
	Partial int
	WinRate float64
	HasLag  bool
	MeanNS  float64
	P50NS   int64
	P90NS   int64
	P95NS   int64
	P99NS   int64
	MaxNS   int64
}

// Summary is a human-oriented view of a snapshot.
type Summary struct {
	RunID       string
	TakenAt     time.Time
	WindowRaces int
	Referee     model.RefereeStats
	Lines       []Line

	// Leader is the stream with the lowest mean lag. AdvantageNS is how far
	// ahead of the runner-up it is per race. Tied is set when the two means
	// are equal.
	HasLeader   bool
	Leader      model.StreamIdentity
	AdvantageNS float64
	Tied        bool
}

// Summarize builds a Summary. Streams with no windowed lag cannot lead.
func Summarize(s model.MetricsSnapshot) Summary {
	out := Summary{
		RunID:       s.RunID,
		TakenAt:     s.TakenAt,
		WindowRaces: s.WindowRaces,
		Referee:     s.Referee,
		Lines:       make([]Line, 0, len(s.Streams)),
	}

	best, second := -1, -1
	for _, st := range s.Streams {
		out.Lines = append(out.Lines, Line{
			Stream:  st.Stream,
			Wins:    st.Wins,
			Races:   st.RacesCounted,
			Partial: st.PartialRaces,
			WinRate: st.WinRate,
			HasLag:  st.HasLag,
			MeanNS:  st.MeanLagNS,
			P50NS:   st.MedianLagNS,
			P90NS:   st.P90NS,
			P95NS:   st.P95NS,
			P99NS:   st.P99NS,
			MaxNS:   st.MaxLagNS,
		})
		if !st.HasLag {
			continue
		}
		i := len(out.Lines) - 1
		switch {
		case best < 0 || ahead(out.Lines[i], out.Lines[best]):
			best, second = i, best
		case second < 0 || ahead(out.Lines[i], out.Lines[second]):
			second = i
		}
	}

	if best >= 0 && second >= 0 {
		out.HasLeader = true
		out.Leader = out.Lines[best].Stream
		out.AdvantageNS = out.Lines[second].MeanNS - out.Lines[best].MeanNS
		out.Tied = out.AdvantageNS == 0
	}
	return out
}

// ahead orders by mean lag, then wins, then stream id.
func ahead(a, b Line) bool {
	if a.MeanNS != b.MeanNS {
		return a.MeanNS < b.MeanNS
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	return a.Stream.ID < b.Stream.ID
}

// Verdict is the one-line leader statement.
func (s Summary) Verdict() string {
	switch {
	case !s.HasLeader:
		return "not enough data to compare streams"
	case s.Tied:
		return "streams are tied"
	default:
		return fmt.Sprintf("%s is faster overall by %s per race", s.Leader.Label(), ms(s.AdvantageNS))
	}
}

// WriteTo prints the summary as an aligned table.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "=== race summary (run %s) ===\n", s.RunID)
	fmt.Fprintf(&b, "races in window: %d  tracked: %d  completed: %d  partial: %d  late: %d\n",
		s.WindowRaces, s.Referee.Tracked, s.Referee.Completed, s.Referee.PartialFinalized, s.Referee.Late)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "stream\twins\twin rate\traces\tpartial\tmean\tp50\tp90\tp95\tp99\tmax")
	for _, l := range s.Lines {
		if !l.HasLag {
			fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%d\t%d\t-\t-\t-\t-\t-\t-\n",
				l.Stream.Label(), l.Wins, l.WinRate*100, l.Races, l.Partial)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Stream.Label(), l.Wins, l.WinRate*100, l.Races, l.Partial,
			ms(l.MeanNS), ms(float64(l.P50NS)), ms(float64(l.P90NS)), ms(float64(l.P95NS)), ms(float64(l.P99NS)),
			ms(float64(l.MaxNS)))
	}
	_ = tw.Flush()
	fmt.Fprintf(&b, ">>> %s\n", s.Verdict())

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func ms(ns float64) string {
	return fmt.Sprintf("%.2fms", ns/float64(time.Millisecond))
}

// Source provides snapshots to report on.
type Source interface {
	Snapshot(ctx context.Context) (model.MetricsSnapshot, error)
}

// Reporter logs a summary on a fixed interval.
type Reporter struct {
	src      Source
	interval time.Duration
	logger   logger.Logger
}

// New creates a Reporter reading from src.
func New(src Source, opts ...Option) *Reporter {
	r := &Reporter{
		src:      src,
		interval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("report")
	}
	return r
}

// Run logs a summary every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := r.src.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn(ctx, "snapshot unavailable", logger.Error(err))
				}
				continue
			}
			r.Log(ctx, snap)
		}
	}
}

// Log writes one summary as structured log records and returns it.
func (r *Reporter) Log(ctx context.Context, snap model.MetricsSnapshot) Summary {
	s := Summarize(snap)
	r.logger.Info(ctx, "race summary",
		logger.String("run_id", s.RunID),
		logger.Int("window_races", s.WindowRaces),
		logger.Uint64("tracked", s.Referee.Tracked),
		logger.Uint64("completed", s.Referee.Completed),
		logger.Uint64("partial", s.Referee.PartialFinalized),
		logger.Uint64("late", s.Referee.Late),
		logger.Uint64("evicted", s.Referee.Evicted),
	)
	for _, l := range s.Lines {
		fields := []logger.Field{
			logger.String("stream", l.Stream.Label()),
			logger.Int("wins", l.Wins),
			logger.String("win_rate", fmt.Sprintf("%.1f%%", l.WinRate*100)),
			logger.Int("races", l.Races),
		}
		if l.HasLag {
			fields = append(fields,
				logger.String("mean", ms(l.MeanNS)),
				logger.String("p50", ms(float64(l.P50NS))),
				logger.String("p90", ms(float64(l.P90NS))),
				logger.String("p95", ms(float64(l.P95NS))),
				logger.String("p99", ms(float64(l.P99NS))),
				logger.String("max", ms(float64(l.MaxNS))),
			)
		}
		r.logger.Info(ctx, "stream summary", fields...)
	}
	r.logger.Info(ctx, s.Verdict())
	return s
}
