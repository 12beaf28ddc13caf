package api

import (
	"encoding/json"
	"net/http"
)

// StatsProvider exposes a point-in-time snapshot of service counters.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the operational snapshot for dashboards and
// smoke checks.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	// Snapshots go stale immediately; callers should not cache them.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(h.provider.GetStats())
}
