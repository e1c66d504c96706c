package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/leadboard-be/internal/models"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ctx context.Context, eventType, level, message string, ownerID, leadID *string) error
	GetRecentEvents(ctx context.Context, ownerID string, limit int) ([]models.Event, error)
}

// EventService records the activity feed shown on the dashboard.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// CreateEvent logs a new event to the database.
func (s *EventService) CreateEvent(ctx context.Context, eventType, level, message string, ownerID, leadID *string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		OwnerID:   ownerID,
		LeadID:    leadID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, level, message, owner_id, lead_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID, event.Type, event.Level, event.Message, event.OwnerID, event.LeadID, event.CreatedAt)
	return err
}

// GetRecentEvents retrieves the most recent events recorded for ownerID.
func (s *EventService) GetRecentEvents(ctx context.Context, ownerID string, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, level, message, owner_id, lead_id, created_at FROM events WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?",
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var owner, lead sql.NullString
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &owner, &lead, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.OwnerID = nullableString(owner)
		event.LeadID = nullableString(lead)
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
