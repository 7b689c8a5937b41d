package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	app "github.com/okian/slotrace/internal/app"
	"github.com/okian/slotrace/internal/config"
	"github.com/okian/slotrace/pkg/logger"
	"github.com/okian/slotrace/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

const raceYAML = `
addr: "127.0.0.1:0"
max_slots: 3
stop_at_max: true
summary_interval: 1h
log_races: false
chain:
  slot_interval: 50ms
streams:
  - name: fast
    kind: simulated
    sim:
      base_delay: 1ms
      seed: 1
  - name: slow
    kind: simulated
    sim:
      base_delay: 5ms
      seed: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slotrace.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun(t *testing.T) {
	convey.Convey("Given a stop-at-max race over simulated streams", t, func() {
		t.Setenv(config.EnvConfig, writeConfig(t, raceYAML))
		t.Setenv(config.EnvDotenv, filepath.Join(t.TempDir(), "missing.env"))

		convey.Convey("Then run exits cleanly once the race is decided", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			start := time.Now()
			convey.So(run(ctx), convey.ShouldEqual, 0)
			convey.So(time.Since(start), convey.ShouldBeLessThan, 10*time.Second)
		})
	})

	convey.Convey("Given an invalid configuration", t, func() {
		t.Setenv(config.EnvConfig, writeConfig(t, raceYAML))
		t.Setenv(config.EnvDotenv, filepath.Join(t.TempDir(), "missing.env"))
		t.Setenv("SLOTRACE_MAX_SLOTS", "0")

		convey.Convey("Then run fails without starting", func() {
			convey.So(run(context.Background()), convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Given a missing config file", t, func() {
		t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))

		convey.Convey("Then run fails", func() {
			convey.So(run(context.Background()), convey.ShouldEqual, 1)
		})
	})
}

func TestNewHTTPServer(t *testing.T) {
	convey.Convey("Given a service that has not started", t, func() {
		convey.So(logger.Init(), convey.ShouldBeNil)
		cfg := config.New(context.Background())
		cfg.Streams = []config.StreamConfig{{Name: "A", Kind: "simulated"}}
		svc := app.New(cfg)

		srv := newHTTPServer(context.Background(), cfg, svc)

		convey.Convey("Then the server uses the configured address and timeouts", func() {
			convey.So(srv.Addr, convey.ShouldEqual, ":9080")
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})

		convey.Convey("Then health is served while race queries are unavailable", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)

			w = httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
			convey.So(strings.Contains(w.Body.String(), "service not started"), convey.ShouldBeTrue)
		})

		convey.Convey("Then stats report the service as stopped", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"started":false`)
		})

		convey.Convey("Then the API docs are served", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "/snapshot")
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("System metrics update without panicking", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		convey.So(metrics.RefreshInterval(), convey.ShouldBeGreaterThan, time.Duration(0))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		convey.So(func() { startSystemMetricsUpdater(ctx, 5*time.Millisecond) }, convey.ShouldNotPanic)

		families, err := metrics.GetRegistry().Gather()
		convey.So(err, convey.ShouldBeNil)
		goroutines := 0.0
		for _, f := range families {
			if f.GetName() == "slotrace_system_goroutine_count" {
				goroutines = f.GetMetric()[0].GetGauge().GetValue()
			}
		}
		convey.So(goroutines, convey.ShouldBeGreaterThan, 0)
	})
}
