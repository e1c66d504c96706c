package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/ids"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const leadColumns = "id, name, email, message, created_at, owner_id"

// LeadServiceProvider defines the interface for lead services.
type LeadServiceProvider interface {
	CreateLead(ctx context.Context, input models.LeadInput, owner *models.User) (models.Lead, error)
	GetLead(ctx context.Context, id string, identity models.User) (models.Lead, error)
	ListLeads(ctx context.Context, identity models.User) ([]models.Lead, error)
	UpdateLead(ctx context.Context, id string, patch models.LeadPatch, identity models.User) (models.Lead, error)
	DeleteLead(ctx context.Context, id string, identity models.User) error
	CountUnownedSince(ctx context.Context, since time.Time) (int, error)
}

// Notifier pushes a message to the open dashboards of one identity.
type Notifier interface {
	Notify(identityID string, message []byte)
}

// LeadService provides business logic for lead management. Reads, updates
// and deletes are scoped to the lead's owner.
type LeadService struct {
	db       *sql.DB
	events   EventServiceProvider
	notifier Notifier
	now      func() time.Time
}

// NewLeadService creates a new LeadService. events and notifier may be nil.
func NewLeadService(db *sql.DB, events EventServiceProvider, notifier Notifier) *LeadService {
	return &LeadService{
		db:       db,
		events:   events,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateLead validates input and stores a new lead. owner is nil for public
// submissions, which produces an unowned lead.
func (s *LeadService) CreateLead(ctx context.Context, input models.LeadInput, owner *models.User) (models.Lead, error) {
	input, err := validateLeadInput(input)
	if err != nil {
		return models.Lead{}, err
	}

	createdAt := s.now().UTC()
	lead := models.Lead{
		ID:        ids.New(createdAt),
		Name:      input.Name,
		Email:     input.Email,
		Message:   input.Message,
		CreatedAt: createdAt,
		OwnerID:   auth.StampOwner(owner),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO leads("+leadColumns+") VALUES(?, ?, ?, ?, ?, ?)",
		lead.ID, lead.Name, lead.Email, lead.Message, lead.CreatedAt, lead.OwnerID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Lead{}, fmt.Errorf("email %s: %w", lead.Email, common.ErrConflict)
		}
		return models.Lead{}, fmt.Errorf("insert lead: %w", err)
	}

	s.record(ctx, "lead.create", fmt.Sprintf("Lead '%s' received.", lead.Name), lead)
	s.notify(lead, websocket.ActionLeadCreated, &lead)
	return lead, nil
}

// GetLead returns a lead the identity owns.
func (s *LeadService) GetLead(ctx context.Context, id string, identity models.User) (models.Lead, error) {
	lead, err := s.getLeadByID(ctx, id)
	if err != nil {
		return models.Lead{}, err
	}
	if err := auth.AuthorizeOwnership(identity, lead); err != nil {
		return models.Lead{}, err
	}
	return lead, nil
}

// ListLeads returns the identity's leads, newest first.
func (s *LeadService) ListLeads(ctx context.Context, identity models.User) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE owner_id = ? ORDER BY created_at DESC, id DESC",
		identity.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []models.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// UpdateLead applies patch to a lead the identity owns. Only name and
// message can change.
func (s *LeadService) UpdateLead(ctx context.Context, id string, patch models.LeadPatch, identity models.User) (models.Lead, error) {
	existing, err := s.GetLead(ctx, id, identity)
	if err != nil {
		return models.Lead{}, err
	}
	if err := validateLeadPatch(&patch); err != nil {
		return models.Lead{}, err
	}

	updated := patch.Apply(existing)
	res, err := s.db.ExecContext(ctx,
		"UPDATE leads SET name = ?, message = ? WHERE id = ? AND owner_id = ?",
		updated.Name, updated.Message, id, identity.ID)
	if err != nil {
		return models.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// deleted since we read it
		return models.Lead{}, fmt.Errorf("lead %s: %w", id, common.ErrNotFound)
	}

	s.record(ctx, "lead.update", fmt.Sprintf("Lead '%s' updated.", updated.Name), updated)
	s.notify(updated, websocket.ActionLeadUpdated, &updated)
	return updated, nil
}

// DeleteLead permanently removes a lead the identity owns. Deleting a lead
// that does not exist, including one already deleted, is ErrNotFound.
func (s *LeadService) DeleteLead(ctx context.Context, id string, identity models.User) error {
	lead, err := s.GetLead(ctx, id, identity)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM leads WHERE id = ? AND owner_id = ?", id, identity.ID)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("lead %s: %w", id, common.ErrNotFound)
	}

	s.record(ctx, "lead.delete", fmt.Sprintf("Lead '%s' was deleted.", lead.Name), lead)
	s.notify(lead, websocket.ActionLeadDeleted, nil)
	return nil
}

// CountUnownedSince counts public submissions received after since.
func (s *LeadService) CountUnownedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leads WHERE owner_id IS NULL AND created_at > ?", since.UTC()).Scan(&n)
	return n, err
}

func (s *LeadService) getLeadByID(ctx context.Context, id string) (models.Lead, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+leadColumns+" FROM leads WHERE id = ?", id)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Lead{}, fmt.Errorf("lead %s: %w", id, common.ErrNotFound)
		}
		return models.Lead{}, err
	}
	return lead, nil
}

func (s *LeadService) record(ctx context.Context, eventType, message string, lead models.Lead) {
	if s.events == nil || lead.OwnerID == nil {
		return
	}
	leadID := lead.ID
	if err := s.events.CreateEvent(ctx, eventType, "info", message, lead.OwnerID, &leadID); err != nil {
		log.Warn().Err(err).Str("lead_id", lead.ID).Str("type", eventType).Msg("Failed to record event")
	}
}

func (s *LeadService) notify(lead models.Lead, action string, payload *models.Lead) {
	if s.notifier == nil || lead.OwnerID == nil {
		return
	}
	s.notifier.Notify(*lead.OwnerID, websocket.NewLeadMessage(action, lead.ID, payload))
}

// scanLead is a helper function to scan a single row into a Lead struct.
func scanLead(scanner interface{ Scan(...any) error }) (models.Lead, error) {
	var lead models.Lead
	var owner sql.NullString
	if err := scanner.Scan(&lead.ID, &lead.Name, &lead.Email, &lead.Message, &lead.CreatedAt, &owner); err != nil {
		return models.Lead{}, err
	}
	lead.OwnerID = nullableString(owner)
	return lead, nil
}

func validateLeadInput(in models.LeadInput) (models.LeadInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Message = strings.TrimSpace(in.Message)

	if in.Name == "" {
		return in, &common.ValidationError{Field: "name", Reason: "is required"}
	}
	if in.Email == "" {
		return in, &common.ValidationError{Field: "email", Reason: "is required"}
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return in, &common.ValidationError{Field: "email", Reason: "is not a valid email address"}
	}
	if err := validateMessage(in.Message); err != nil {
		return in, err
	}
	return in, nil
}

func validateLeadPatch(p *models.LeadPatch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return &common.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		p.Name = &name
	}
	if p.Message != nil {
		msg := strings.TrimSpace(*p.Message)
		if err := validateMessage(msg); err != nil {
			return err
		}
		p.Message = &msg
	}
	return nil
}

func validateMessage(msg string) error {
	if utf8.RuneCountInString(msg) > models.MaxMessageLength {
		return &common.ValidationError{
			Field:  "message",
			Reason: fmt.Sprintf("must be at most %d characters", models.MaxMessageLength),
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
