package racesim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/internal/domain/types"
	"github.com/okian/slotrace/internal/report"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := SetupLogging(io.Discard, false); err != nil {
		panic(err)
	}
}

func TestParseProfile(t *testing.T) {
	Convey("Given profile strings", t, func() {
		Convey("A full profile parses every field", func() {
			p, err := ParseProfile("helius:20ms:5ms:0.01:50")
			So(err, ShouldBeNil)
			So(p, ShouldResemble, Profile{
				Name: "helius", BaseDelay: 20 * time.Millisecond, Jitter: 5 * time.Millisecond,
				DropRate: 0.01, FailEvery: 50,
			})
		})

		Convey("Name and base delay are enough", func() {
			p, err := ParseProfile(" a:1s ")
			So(err, ShouldBeNil)
			So(p.BaseDelay, ShouldEqual, time.Second)
			So(p.Jitter, ShouldEqual, time.Duration(0))
		})

		Convey("Bad profiles are rejected", func() {
			for _, s := range []string{"", "a", ":5ms", "a:fast", "a:1ms:x", "a:1ms:1ms:1.5", "a:1ms:1ms:0:-1", "a:1ms:1ms:0:1:extra"} {
				_, err := ParseProfile(s)
				So(errors.Is(err, ErrBadProfile), ShouldBeTrue)
			}
		})

		Convey("Lists skip blanks", func() {
			ps, err := ParseProfiles("a:1ms, ,b:2ms")
			So(err, ShouldBeNil)
			So(len(ps), ShouldEqual, 2)
			So(ps[1].Name, ShouldEqual, "b")

			_, err = ParseProfiles("a:1ms,b")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDefaultProfiles(t *testing.T) {
	Convey("Default profiles have distinct names and growing delays", t, func() {
		ps := DefaultProfiles(3)
		So(len(ps), ShouldEqual, 3)
		So(ps[0].Name, ShouldEqual, "sim-0")
		So(ps[2].BaseDelay, ShouldBeGreaterThan, ps[1].BaseDelay)
	})
}

func TestRun(t *testing.T) {
	Convey("Given two simulated streams", t, func() {
		cfg := &Config{
			Profiles: []Profile{
				{Name: "near", BaseDelay: time.Millisecond},
				{Name: "far", BaseDelay: 6 * time.Millisecond},
			},
			Slots:        5,
			SlotInterval: 20 * time.Millisecond,
			Timeout:      10 * time.Second,
		}

		Convey("A stop-at-max race decides exactly the requested slots", func() {
			res, err := Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(res.TimedOut, ShouldBeFalse)
			So(res.RunID, ShouldNotBeEmpty)
			So(res.Summary.WindowRaces, ShouldEqual, 5)
			So(len(res.Races), ShouldEqual, 5)
			So(res.Summary.Leader.Name, ShouldEqual, "near")
			So(Verify(res, cfg), ShouldBeNil)
		})

		Convey("A rolling race stops at the timeout without being reported as timed out", func() {
			cfg.Rolling = true
			cfg.Timeout = 300 * time.Millisecond
			res, err := Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(res.TimedOut, ShouldBeFalse)
			So(res.Summary.WindowRaces, ShouldBeLessThanOrEqualTo, 5)
			So(Verify(res, cfg), ShouldBeNil)
		})

		Convey("Invalid configs are rejected before starting", func() {
			cfg.Profiles = cfg.Profiles[:1]
			_, err := Run(context.Background(), cfg)
			So(errors.Is(err, ErrBadConfig), ShouldBeTrue)

			cfg.Profiles = DefaultProfiles(2)
			cfg.Partial = "sometimes"
			_, err = Run(context.Background(), cfg)
			So(errors.Is(err, ErrBadConfig), ShouldBeTrue)
		})
	})
}

func TestVerify(t *testing.T) {
	ids := model.Identities("a", "b")
	cfg := &Config{Profiles: DefaultProfiles(2), Slots: 2}
	good := func() *Result {
		return &Result{
			Summary: report.Summary{
				WindowRaces: 2,
				Referee:     model.RefereeStats{Done: true},
				Lines: []report.Line{
					{Stream: ids[0], Wins: 2, Races: 2},
					{Stream: ids[1], Wins: 0, Races: 2},
				},
			},
			Races: []types.Race{
				{Slot: 2, Complete: true, Winner: "a", Results: []types.Result{{Stream: "a"}, {Stream: "b", LagNS: 4}}},
				{Slot: 1, Complete: true, Winner: "a", Results: []types.Result{{Stream: "a"}, {Stream: "b", LagNS: 9}}},
			},
		}
	}

	Convey("Consistent results pass", t, func() {
		So(Verify(good(), cfg), ShouldBeNil)
	})

	Convey("Inconsistent results are reported", t, func() {
		res := good()
		res.Summary.Lines[1].Wins = 1
		res.Races[0].Results[1].LagNS = -1
		res.Races[1].Complete = true
		res.Races[1].Results = res.Races[1].Results[:1]

		err := Verify(res, cfg)
		So(errors.Is(err, ErrInconsistent), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "wins add up to 3 over 2 races")
		So(err.Error(), ShouldContainSubstring, "slot 2: results are not ordered by lag")
		So(err.Error(), ShouldContainSubstring, "slot 1 is complete with 1 of 2 streams")
	})

	Convey("A finished race must have decided every slot", t, func() {
		res := good()
		res.Summary.Referee.Done = false
		So(Verify(res, cfg), ShouldNotBeNil)

		res.TimedOut = true
		So(Verify(res, cfg), ShouldBeNil)
	})
}

func TestSaveJSON(t *testing.T) {
	Convey("Results are written as indented JSON", t, func() {
		ids := model.Identities("a", "b")
		res := &Result{
			RunID:    "run-7",
			Duration: 1500 * time.Millisecond,
			Summary: report.Summary{Lines: []report.Line{
				{Stream: ids[0], Wins: 1, Races: 1, WinRate: 1},
				{Stream: ids[1], Races: 1},
			}},
			Races: []types.Race{{Slot: 1, Winner: "a"}},
		}
		path := filepath.Join(t.TempDir(), "nested", "race.json")

		written, err := SaveJSON(path, res)
		So(err, ShouldBeNil)
		So(written, ShouldEqual, path)

		data, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(bytes.Contains(data, []byte("\n  \"run_id\": \"run-7\"")), ShouldBeTrue)

		var out resultFile
		So(json.Unmarshal(data, &out), ShouldBeNil)
		So(out.Duration, ShouldEqual, "1.5s")
		So(len(out.Streams), ShouldEqual, 2)
		So(out.Races[0].Winner, ShouldEqual, "a")
		So(out.Verdict, ShouldEqual, "not enough data to compare streams")
	})
}

func TestShowHelp(t *testing.T) {
	Convey("Help lists the flags", t, func() {
		var buf bytes.Buffer
		ShowHelp(&buf)
		So(buf.String(), ShouldContainSubstring, "-streams")
		So(buf.String(), ShouldContainSubstring, "-rolling")
	})
}
