package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/isdelr/leadboard-be/internal/services"
)

// LeadHandler handles HTTP requests for leads.
type LeadHandler struct {
	service services.LeadServiceProvider
}

// NewLeadHandler creates a new LeadHandler.
func NewLeadHandler(service services.LeadServiceProvider) *LeadHandler {
	return &LeadHandler{service: service}
}

// Create handles both public submissions and dashboard creates. An
// authenticated caller becomes the lead's owner.
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.LeadInput
	if err := decodeJSON(w, r, &input); err != nil {
		respond.Error(w, err)
		return
	}

	var owner *models.User
	if user, ok := auth.IdentityFromContext(r.Context()); ok {
		owner = &user
	}

	lead, err := h.service.CreateLead(r.Context(), input, owner)
	if err != nil {
		fail(w, r, err, "Failed to create lead")
		return
	}
	respond.JSON(w, http.StatusCreated, lead)
}

// List returns the caller's leads, newest first.
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}
	leads, err := h.service.ListLeads(r.Context(), user)
	if err != nil {
		fail(w, r, err, "Failed to list leads")
		return
	}
	respond.JSON(w, http.StatusOK, leads)
}

// Get returns one of the caller's leads.
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}
	lead, err := h.service.GetLead(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		fail(w, r, err, "Failed to get lead")
		return
	}
	respond.JSON(w, http.StatusOK, lead)
}

// Update applies the name/message patch in the body.
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}
	var patch models.LeadPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respond.Error(w, err)
		return
	}

	lead, err := h.service.UpdateLead(r.Context(), chi.URLParam(r, "id"), patch, user)
	if err != nil {
		fail(w, r, err, "Failed to update lead")
		return
	}
	respond.JSON(w, http.StatusOK, lead)
}

// Delete permanently removes one of the caller's leads.
func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteLead(r.Context(), chi.URLParam(r, "id"), user); err != nil {
		fail(w, r, err, "Failed to delete lead")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
