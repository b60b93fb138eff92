package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GoogleEvent mirrors one downstream calendar event for a user, keyed by
// (user, google_event_id).
type GoogleEvent struct {
	ID     uuid.UUID
	UserID uuid.UUID

	GoogleEventID    string
	GoogleCalendarID string

	Title         string
	Description   string
	StartDatetime time.Time
	EndDatetime   time.Time
	AllDay        bool
	Location      string
	HTMLLink      string

	SyncedFromInsper bool

	RawData     json.RawMessage
	ContentHash string

	LastSyncedAt *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewGoogleEvent creates a mirror row for an event the engine wrote (or
// observed) downstream.
func NewGoogleEvent(userID uuid.UUID, googleEventID, calendarID string) *GoogleEvent {
	now := time.Now().UTC()
	return &GoogleEvent{
		ID:               uuid.New(),
		UserID:           userID,
		GoogleEventID:    googleEventID,
		GoogleCalendarID: calendarID,
		SyncedFromInsper: true,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ComputeContentHash digests the downstream change-relevant subset.
func (e *GoogleEvent) ComputeContentHash() string {
	return contentHash(map[string]any{
		"title":          e.Title,
		"description":    e.Description,
		"start_datetime": e.StartDatetime.Format(time.RFC3339),
		"end_datetime":   e.EndDatetime.Format(time.RFC3339),
		"all_day":        e.AllDay,
		"location":       e.Location,
	})
}

// Touch refreshes the update stamp.
func (e *GoogleEvent) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// MarkSynced stamps the last successful sync.
func (e *GoogleEvent) MarkSynced(at time.Time) {
	t := at.UTC()
	e.LastSyncedAt = &t
	e.Touch()
}
