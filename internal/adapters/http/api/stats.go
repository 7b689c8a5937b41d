package api

import (
	"net/http"
	"time"
)

// StatsProvider exposes service counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the provider's counters stamped with the read time.
type StatsHandler struct {
	provider StatsProvider
	now      func() time.Time
}

// NewStatsHandler creates a stats handler backed by provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, now: time.Now}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	src := h.provider.GetStats()
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["taken_at"] = h.now().UTC()
	writeJSON(w, http.StatusOK, out)
}
