package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func scenario() model.MetricsSnapshot {
	ids := model.Identities("A", "B")
	return model.MetricsSnapshot{
		RunID:       "run-1",
		WindowRaces: 3,
		Streams: []model.StreamSnapshot{
			{Stream: ids[0], Wins: 2, RacesCounted: 3, WinRate: 2.0 / 3, HasLag: true,
				MeanLagNS: float64(10*time.Millisecond) / 3, MedianLagNS: 0, P90NS: int64(10 * time.Millisecond),
				P95NS: int64(10 * time.Millisecond), P99NS: int64(10 * time.Millisecond)},
			{Stream: ids[1], Wins: 1, RacesCounted: 3, WinRate: 1.0 / 3, HasLag: true,
				MeanLagNS: float64(55*time.Millisecond) / 3, MedianLagNS: int64(5 * time.Millisecond), P90NS: int64(50 * time.Millisecond),
				P95NS: int64(50 * time.Millisecond), P99NS: int64(50 * time.Millisecond), MaxLagNS: int64(50 * time.Millisecond)},
		},
		Referee: model.RefereeStats{Tracked: 3, Completed: 3},
	}
}

type fakeSource struct {
	snap  model.MetricsSnapshot
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Snapshot(context.Context) (model.MetricsSnapshot, error) {
	f.calls.Add(1)
	return f.snap, f.err
}

func TestSummarize(t *testing.T) {
	Convey("Given a two stream snapshot", t, func() {
		s := Summarize(scenario())

		Convey("The leader is the stream with the lowest mean lag", func() {
			So(s.HasLeader, ShouldBeTrue)
			So(s.Leader.Name, ShouldEqual, "A")
			So(s.AdvantageNS, ShouldAlmostEqual, float64(15*time.Millisecond), 1)
			So(s.Verdict(), ShouldEqual, "A is faster overall by 15.00ms per race")
		})

		Convey("Rows keep stream order", func() {
			So(len(s.Lines), ShouldEqual, 2)
			So(s.Lines[0].Stream.Name, ShouldEqual, "A")
			So(s.Lines[1].P50NS, ShouldEqual, int64(5*time.Millisecond))
		})
	})

	Convey("Given equal means", t, func() {
		snap := scenario()
		snap.Streams[1].MeanLagNS = snap.Streams[0].MeanLagNS
		s := Summarize(snap)
		So(s.Tied, ShouldBeTrue)
		So(s.Leader.Name, ShouldEqual, "A")
		So(s.Verdict(), ShouldEqual, "streams are tied")
	})

	Convey("Given a stream without lag values", t, func() {
		snap := scenario()
		snap.Streams[1] = model.StreamSnapshot{Stream: snap.Streams[1].Stream}
		s := Summarize(snap)
		So(s.HasLeader, ShouldBeFalse)
		So(s.Verdict(), ShouldEqual, "not enough data to compare streams")
	})

	Convey("Given three streams the advantage is over the runner up", t, func() {
		ids := model.Identities("A", "B", "C")
		snap := model.MetricsSnapshot{Streams: []model.StreamSnapshot{
			{Stream: ids[0], HasLag: true, MeanLagNS: 30},
			{Stream: ids[1], HasLag: true, MeanLagNS: 10},
			{Stream: ids[2], HasLag: true, MeanLagNS: 12},
		}}
		s := Summarize(snap)
		So(s.Leader.Name, ShouldEqual, "B")
		So(s.AdvantageNS, ShouldEqual, 2.0)
	})
}

func TestWriteTo(t *testing.T) {
	Convey("The table lists every stream and the verdict", t, func() {
		snap := scenario()
		snap.Streams = append(snap.Streams, model.StreamSnapshot{Stream: model.StreamIdentity{ID: 2}})
		var buf bytes.Buffer
		n, err := Summarize(snap).WriteTo(&buf)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, int64(buf.Len()))

		out := buf.String()
		So(out, ShouldContainSubstring, "run run-1")
		So(out, ShouldContainSubstring, "66.7%")
		So(out, ShouldContainSubstring, "18.33ms")
		So(out, ShouldContainSubstring, "stream-2")
		So(out, ShouldContainSubstring, "50.00ms")
		So(out, ShouldContainSubstring, "max")
		So(out, ShouldContainSubstring, ">>> A is faster overall")
	})
}

func TestReporter(t *testing.T) {
	Convey("Given a reporter with a short interval", t, func() {
		var buf bytes.Buffer
		So(logger.InitWithFormat(logger.FormatText, &buf), ShouldBeNil)
		src := &fakeSource{snap: scenario()}
		r := New(src, WithInterval(10*time.Millisecond), WithLogger(logger.Get()))

		Convey("Log emits one record per stream plus the verdict", func() {
			s := r.Log(context.Background(), scenario())
			So(s.Leader.Name, ShouldEqual, "A")
			out := buf.String()
			So(strings.Count(out, "stream summary"), ShouldEqual, 2)
			So(out, ShouldContainSubstring, "race summary")
			So(out, ShouldContainSubstring, "faster overall")
		})

		Convey("Run polls the source until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			r.Run(ctx)
			So(src.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)
		})

		Convey("Run survives snapshot errors", func() {
			src.err = errors.New("engine stopped")
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			r.Run(ctx)
			So(buf.String(), ShouldContainSubstring, "snapshot unavailable")
		})
	})
}
