package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/slotrace/internal/app"
	"github.com/okian/slotrace/internal/adapters/stream/source"
	"github.com/okian/slotrace/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

func simulatedConfig(maxSlots int) *config.Config {
	cfg := testConfig("fast", "slow")
	cfg.MaxSlots = maxSlots
	cfg.Backoff = config.BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
	cfg.Streams[0].Sim = config.SimConfig{BaseDelay: time.Millisecond, Seed: 1}
	cfg.Streams[1].Sim = config.SimConfig{BaseDelay: 4 * time.Millisecond, Seed: 2}
	return cfg
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given simulated streams racing until the window is full", t, func() {
		cfg := simulatedConfig(20)
		cfg.StopAtMax = true
		// An epoch in the future makes every stream start at the same slot.
		chain := source.NewChain(time.Now().Add(50*time.Millisecond), 10*time.Millisecond, 1)
		svc := service.New(cfg, service.WithChain(chain))
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("Then the service stops by itself once every race is decided", func() {
			So(waitClosed(svc.Done(), 10*time.Second), ShouldBeTrue)

			snap, err := svc.Metrics(ctx)
			So(err, ShouldBeNil)
			So(snap.Done, ShouldBeTrue)
			So(snap.WindowRaces, ShouldEqual, 20)
			So(len(snap.Streams), ShouldEqual, 2)

			fast, slow := snap.Streams[0], snap.Streams[1]
			So(fast.RacesCounted, ShouldEqual, 20)
			So(slow.RacesCounted, ShouldEqual, 20)
			So(fast.Wins+slow.Wins, ShouldEqual, 20)
			So(fast.Wins, ShouldBeGreaterThan, slow.Wins)
			So(fast.MedianLagNS, ShouldNotBeNil)
			So(*slow.MedianLagNS, ShouldBeGreaterThan, 0)

			final, ok := svc.FinalSummary()
			So(ok, ShouldBeTrue)
			So(final.HasLeader, ShouldBeTrue)
			So(final.Leader.Name, ShouldEqual, "fast")
		})
	})

	Convey("Given a rolling window and a lossy stream", t, func() {
		cfg := simulatedConfig(10)
		cfg.Streams[1].Sim.DropRate = 0.3
		cfg.Streams[1].Sim.FailEvery = 5
		chain := source.NewChain(time.Now(), 5*time.Millisecond, 1)
		svc := service.New(cfg, service.WithChain(chain))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		time.Sleep(300 * time.Millisecond)

		Convey("Then metrics stay bounded by the window", func() {
			live, err := svc.Snapshot(ctx)
			So(err, ShouldBeNil)
			So(live.WindowRaces, ShouldBeLessThanOrEqualTo, 10)

			So(svc.Shutdown(ctx), ShouldBeNil)

			snap, err := svc.Snapshot(ctx)
			So(err, ShouldBeNil)
			So(snap.WindowRaces, ShouldEqual, 10)
			So(snap.Referee.PartialFinalized, ShouldBeGreaterThan, 0)

			fast, _ := snap.Stream(0)
			slow, _ := snap.Stream(1)
			So(fast.RacesCounted, ShouldBeGreaterThanOrEqualTo, slow.RacesCounted)
			So(fast.Wins+slow.Wins, ShouldEqual, snap.WindowRaces)

			streams, err := svc.Streams(ctx)
			So(err, ShouldBeNil)
			So(streams[1].Kind, ShouldEqual, source.KindSimulated)
		})
	})
}
