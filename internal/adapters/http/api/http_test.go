package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/slotrace/internal/adapters/http/api"
	"github.com/okian/slotrace/internal/domain/types"
	"github.com/okian/slotrace/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockDependencies struct {
	snapshot   types.Snapshot
	races      []types.Race
	streams    []types.StreamStatus
	err        error
	lastLimit  int
	sawTimeout bool
}

func (m *mockDependencies) Metrics(ctx context.Context) (types.Snapshot, error) {
	_, m.sawTimeout = ctx.Deadline()
	if m.err != nil {
		return types.Snapshot{}, m.err
	}
	return m.snapshot, nil
}

func (m *mockDependencies) Races(ctx context.Context, n int) ([]types.Race, error) {
	m.lastLimit = n
	if m.err != nil {
		return nil, m.err
	}
	if n > len(m.races) {
		return m.races, nil
	}
	return m.races[:n], nil
}

func (m *mockDependencies) Streams(ctx context.Context) ([]types.StreamStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.streams, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newDeps() *mockDependencies {
	median := int64(5_000_000)
	return &mockDependencies{
		snapshot: types.Snapshot{
			RunID:       "run-1",
			TakenAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			WindowRaces: 3,
			Streams: []types.StreamStats{
				{ID: 0, Name: "A", Wins: 2, RacesCounted: 3, WinRate: 2.0 / 3},
				{ID: 1, Name: "B", Wins: 1, RacesCounted: 3, WinRate: 1.0 / 3, MedianLagNS: &median},
			},
		},
		races: []types.Race{
			{Slot: 3, Complete: true, Cause: "completed", Winner: "A"},
			{Slot: 2, Complete: true, Cause: "completed", Winner: "B"},
			{Slot: 1, Complete: false, Cause: "evicted", Winner: "A"},
		},
		streams: []types.StreamStatus{
			{ID: 0, Name: "A", Kind: "websocket", State: "connected"},
			{ID: 1, Name: "B", Kind: "websocket", State: "retrying", Attempt: 3, LastError: "dial refused"},
		},
	}
}

func serve(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := newDeps()
		statsProvider := &mockStatsProvider{stats: map[string]interface{}{"started": true}}
		server := api.NewServer(deps, statsProvider, 50)
		mux := http.NewServeMux()

		Convey("When registering routes", func() {
			server.Register(context.Background(), mux)

			Convey("Then health endpoint should be accessible", func() {
				w := serve(mux, "GET", "/healthz")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})

			Convey("And metrics endpoint should expose the registry", func() {
				metrics.RecordWin("A")
				w := serve(mux, "GET", "/metrics")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "wins_total")
			})

			Convey("And stats endpoint should be accessible", func() {
				w := serve(mux, "GET", "/stats")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And snapshot endpoint should be accessible", func() {
				w := serve(mux, "GET", "/snapshot")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And races endpoint should be accessible", func() {
				w := serve(mux, "GET", "/races?limit=2")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And streams endpoint should be accessible", func() {
				w := serve(mux, "GET", "/streams")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And unknown paths should 404", func() {
				w := serve(mux, "GET", "/leaderboard")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestSnapshotHandler_HandleGetSnapshot(t *testing.T) {
	Convey("Given a snapshot handler", t, func() {
		deps := newDeps()
		handler := api.NewSnapshotHandler(deps)

		Convey("When the engine answers", func() {
			w := httptest.NewRecorder()
			handler.HandleGetSnapshot(w, httptest.NewRequest("GET", "/snapshot", nil))

			Convey("Then the snapshot is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")

				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["run_id"], ShouldEqual, "run-1")
				So(body["window_races"], ShouldEqual, 3.0)

				streams := body["streams"].([]any)
				So(len(streams), ShouldEqual, 2)
				So(streams[0].(map[string]any)["median_lag_ns"], ShouldBeNil)
				So(streams[1].(map[string]any)["median_lag_ns"], ShouldEqual, 5e6)
			})

			Convey("And the query is bounded by a deadline", func() {
				So(deps.sawTimeout, ShouldBeTrue)
			})
		})

		Convey("When the service is not running", func() {
			deps.err = errors.New("service not started")
			w := httptest.NewRecorder()
			handler.HandleGetSnapshot(w, httptest.NewRequest("GET", "/snapshot", nil))
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, `"code":"unavailable"`)
		})

		Convey("When the engine is too slow", func() {
			deps.err = context.DeadlineExceeded
			w := httptest.NewRecorder()
			handler.HandleGetSnapshot(w, httptest.NewRequest("GET", "/snapshot", nil))
			So(w.Code, ShouldEqual, http.StatusGatewayTimeout)
		})

		Convey("When the method is not GET", func() {
			w := httptest.NewRecorder()
			handler.HandleGetSnapshot(w, httptest.NewRequest("POST", "/snapshot", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestRacesHandler_HandleGetRaces(t *testing.T) {
	Convey("Given a races handler capped at 2", t, func() {
		deps := newDeps()
		handler := api.NewRacesHandler(deps, 2)

		call := func(target string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			handler.HandleGetRaces(w, httptest.NewRequest("GET", target, nil))
			return w
		}

		Convey("When limit is valid", func() {
			w := call("/races?limit=1")
			So(w.Code, ShouldEqual, http.StatusOK)

			var races []types.Race
			So(json.Unmarshal(w.Body.Bytes(), &races), ShouldBeNil)
			So(len(races), ShouldEqual, 1)
			So(races[0].Slot, ShouldEqual, 3)
		})

		Convey("When limit is omitted the cap applies", func() {
			w := call("/races")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLimit, ShouldEqual, 2)
		})

		Convey("When limit is not a positive number", func() {
			for _, target := range []string{"/races?limit=abc", "/races?limit=0", "/races?limit=-3"} {
				w := call(target)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "bad_request")
			}
		})

		Convey("When limit exceeds the cap", func() {
			w := call("/races?limit=3")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "limit_exceeded")
		})

		Convey("When no races have finished", func() {
			deps.races = nil
			w := call("/races")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, "[]\n")
		})

		Convey("When the engine fails", func() {
			deps.err = errors.New("engine stopped")
			w := call("/races")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestStreamsHandler_HandleGetStreams(t *testing.T) {
	Convey("Given a streams handler", t, func() {
		deps := newDeps()
		handler := api.NewStreamsHandler(deps)

		Convey("Then every stream's state is listed", func() {
			w := httptest.NewRecorder()
			handler.HandleGetStreams(w, httptest.NewRequest("GET", "/streams", nil))
			So(w.Code, ShouldEqual, http.StatusOK)

			var streams []types.StreamStatus
			So(json.Unmarshal(w.Body.Bytes(), &streams), ShouldBeNil)
			So(len(streams), ShouldEqual, 2)
			So(streams[1].State, ShouldEqual, "retrying")
			So(streams[1].LastError, ShouldEqual, "dial refused")
			So(w.Body.String(), ShouldNotContainSubstring, "last_changed")
		})
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	Convey("Given a health handler", t, func() {
		handler := api.NewHealthHandler()

		Convey("When GET /healthz is requested", func() {
			w := httptest.NewRecorder()
			handler.HandleHealth(w, httptest.NewRequest("GET", "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When another method is used", func() {
			w := httptest.NewRecorder()
			handler.HandleHealth(w, httptest.NewRequest("DELETE", "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStatsHandler_HandleStats(t *testing.T) {
	Convey("Given a stats handler", t, func() {
		provider := &mockStatsProvider{stats: map[string]interface{}{
			"started":      true,
			"queue_length": 7,
		}}
		handler := api.NewStatsHandler(provider)

		Convey("When GET /stats is requested", func() {
			w := httptest.NewRecorder()
			handler.HandleStats(w, httptest.NewRequest("GET", "/stats", nil))

			Convey("Then the provider's stats are encoded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["started"], ShouldEqual, true)
				So(body["queue_length"], ShouldEqual, 7.0)
				So(body, ShouldContainKey, "taken_at")
			})
		})

		Convey("When POST /stats is requested", func() {
			w := httptest.NewRecorder()
			handler.HandleStats(w, httptest.NewRequest("POST", "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given a wrapped handler that fails", t, func() {
		h := api.MetricsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}, "teapot")

		Convey("Then the status code passes through", func() {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/teapot", nil))
			So(w.Code, ShouldEqual, http.StatusTeapot)
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Wrapped API errors expose kind and cause", t, func() {
		cause := errors.New("engine stopped")
		err := api.Wrap("api.get_races", api.ErrUnavailable, cause)
		So(errors.Is(err, api.ErrUnavailable), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.get_races: unavailable: engine stopped")

		kind := api.NewKind("api.get_races", api.ErrBadRequest)
		So(errors.Is(kind, api.ErrBadRequest), ShouldBeTrue)
		So(kind.Error(), ShouldEqual, "api.get_races: bad request")
	})
}
