package api

import (
	"context"
	"net/http"
)

// SnapshotDependencies defines the interface for metrics snapshots.
type SnapshotDependencies interface {
	Metrics(ctx context.Context) (Snapshot, error)
}

// SnapshotHandler handles snapshot requests.
type SnapshotHandler struct {
	deps SnapshotDependencies
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(deps SnapshotDependencies) *SnapshotHandler {
	return &SnapshotHandler{deps: deps}
}

// HandleGetSnapshot handles GET /snapshot requests.
func (h *SnapshotHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_snapshot"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	snap, err := h.deps.Metrics(ctx)
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
