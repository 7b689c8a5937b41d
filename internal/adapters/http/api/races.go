package api

import (
	"context"
	"net/http"
	"strconv"
)

const defaultRacesLimit = 20

// RacesDependencies defines the interface for recent race queries.
type RacesDependencies interface {
	Races(ctx context.Context, n int) ([]Race, error)
}

// RacesHandler handles recent race requests.
type RacesHandler struct {
	deps     RacesDependencies
	maxLimit int
}

// NewRacesHandler creates a new races handler.
func NewRacesHandler(deps RacesDependencies, maxLimit int) *RacesHandler {
	if maxLimit < 1 {
		maxLimit = defaultRacesLimit
	}
	return &RacesHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetRaces handles GET /races?limit=N requests. limit defaults to 20
// or maxLimit, whichever is smaller.
func (h *RacesHandler) HandleGetRaces(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_races"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	n := min(defaultRacesLimit, h.maxLimit)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if v > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	races, err := h.deps.Races(ctx, n)
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	if races == nil {
		races = []Race{}
	}
	writeJSON(w, http.StatusOK, races)
}
