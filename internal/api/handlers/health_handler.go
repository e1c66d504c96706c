package handlers

import (
	"net/http"

	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/monitoring"
)

// StatsSource provides the latest host sample.
type StatsSource interface {
	Latest() monitoring.HostStats
}

// HealthHandler serves liveness and host statistics.
type HealthHandler struct {
	stats StatsSource
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(stats StatsSource) *HealthHandler {
	return &HealthHandler{stats: stats}
}

// Get reports the service as up together with the latest host sample.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	respond.JSON(w, http.StatusOK, h.stats.Latest())
}
