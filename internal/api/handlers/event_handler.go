package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/services"
)

const maxEventLimit = 100

// EventHandler handles HTTP requests related to the activity feed.
type EventHandler struct {
	service services.EventServiceProvider
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service services.EventServiceProvider) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent handles the request to get the caller's recent activity.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20 // Default limit
	}
	limit = min(limit, maxEventLimit)

	events, err := h.service.GetRecentEvents(r.Context(), user.ID, limit)
	if err != nil {
		fail(w, r, err, "Failed to retrieve events")
		return
	}
	respond.JSON(w, http.StatusOK, events)
}
