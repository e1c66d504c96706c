package models

import "time"

// Event represents a loggable action in the system.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "lead.create", "leads.digest"
	Level     string    `json:"level"` // e.g., "info", "warn", "error"
	Message   string    `json:"message"`
	OwnerID   *string   `json:"ownerId,omitempty"` // Nullable for system-wide events
	LeadID    *string   `json:"leadId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
