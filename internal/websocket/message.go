package websocket

import (
	"encoding/json"

	"github.com/isdelr/leadboard-be/internal/models"
)

// Actions pushed to dashboards.
const (
	ActionLeadCreated = "lead.created"
	ActionLeadUpdated = "lead.updated"
	ActionLeadDeleted = "lead.deleted"
	ActionError       = "error"

	// keep-alive sent by dashboards and its answer
	ActionPing = "ping"
	ActionPong = "pong"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// LeadPayload accompanies the lead.* actions. Deletions only carry the id.
type LeadPayload struct {
	ID   string       `json:"id"`
	Lead *models.Lead `json:"lead,omitempty"`
}

// NewLeadMessage encodes a lead change notification.
func NewLeadMessage(action string, id string, lead *models.Lead) []byte {
	return encode(action, LeadPayload{ID: id, Lead: lead})
}

// NewErrorMessage encodes an error notification for a single client.
func NewErrorMessage(msg string) []byte {
	return encode(ActionError, map[string]string{"error": msg})
}

// NewPongMessage answers a dashboard ping.
func NewPongMessage() []byte {
	return encode(ActionPong, struct{}{})
}

func encode(action string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(Message{Action: action, Payload: raw})
	return data
}
