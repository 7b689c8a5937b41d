package api

import (
	"context"
	"net/http"
)

// StreamsDependencies defines the interface for stream status queries.
type StreamsDependencies interface {
	Streams(ctx context.Context) ([]StreamStatus, error)
}

// StreamsHandler handles stream status requests.
type StreamsHandler struct {
	deps StreamsDependencies
}

// NewStreamsHandler creates a new streams handler.
func NewStreamsHandler(deps StreamsDependencies) *StreamsHandler {
	return &StreamsHandler{deps: deps}
}

// HandleGetStreams handles GET /streams requests.
func (h *StreamsHandler) HandleGetStreams(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_streams"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	streams, err := h.deps.Streams(ctx)
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}
