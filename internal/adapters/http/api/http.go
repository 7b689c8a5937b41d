// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/slotrace/internal/domain/types"
)

// queryTimeout bounds how long a handler waits on the engine.
const queryTimeout = 2 * time.Second

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SnapshotDependencies
	RacesDependencies
	StreamsDependencies
}

// Server wires HTTP routes for the race API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	snapshotHandler *SnapshotHandler
	racesHandler    *RacesHandler
	streamsHandler  *StreamsHandler
}

// NewServer creates a new API server with all handlers. maxRaces caps the
// limit accepted by GET /races.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxRaces int) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		snapshotHandler: NewSnapshotHandler(deps),
		racesHandler:    NewRacesHandler(deps, maxRaces),
		streamsHandler:  NewStreamsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/snapshot", MetricsMiddleware(s.snapshotHandler.HandleGetSnapshot, "snapshot"))
	mux.HandleFunc("/races", MetricsMiddleware(s.racesHandler.HandleGetRaces, "races"))
	mux.HandleFunc("/streams", MetricsMiddleware(s.streamsHandler.HandleGetStreams, "streams"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeUpstreamError maps an engine query failure to a response.
func writeUpstreamError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "timeout", Wrap(op, ErrUnavailable, err))
		return
	}
	writeError(w, http.StatusServiceUnavailable, "unavailable", Wrap(op, ErrUnavailable, err))
}

// Type aliases keep handler signatures short.
type (
	Snapshot     = types.Snapshot
	Race         = types.Race
	StreamStatus = types.StreamStatus
)
