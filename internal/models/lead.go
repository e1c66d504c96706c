package models

import "time"

// MaxMessageLength bounds Lead.Message, counted in runes.
const MaxMessageLength = 1000

// Lead is a captured contact/inquiry record.
type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerID   *string   `json:"ownerId"` // nil for unowned public submissions
}

// OwnedBy reports whether the lead belongs to the given identity.
func (l Lead) OwnedBy(identityID string) bool {
	return l.OwnerID != nil && identityID != "" && *l.OwnerID == identityID
}

// LeadInput is the full set of client-writable fields on create.
type LeadInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// LeadPatch is the full set of client-writable fields on update. Nil means
// "leave unchanged". Email, id, createdAt and ownerId are not part of it, so
// attempts to change them are dropped during decoding.
type LeadPatch struct {
	Name    *string `json:"name,omitempty"`
	Message *string `json:"message,omitempty"`
}

// Apply returns a copy of l with the patch applied.
func (p LeadPatch) Apply(l Lead) Lead {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Message != nil {
		l.Message = *p.Message
	}
	return l
}
