package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/inspersync/inspersync/internal/shared/domain"
)

// MappingStatus tracks the lifecycle of an upstream-to-downstream link.
type MappingStatus string

const (
	MappingStatusPending  MappingStatus = "pending"
	MappingStatusSynced   MappingStatus = "synced"
	MappingStatusFailed   MappingStatus = "failed"
	MappingStatusConflict MappingStatus = "conflict"
	MappingStatusDeleted  MappingStatus = "deleted"
)

// SyncDirectionInsperToGoogle is the only direction the engine performs.
// The column exists so a future bidirectional mode doesn't need a
// migration.
const SyncDirectionInsperToGoogle = "insper_to_google"

// EventMapping links an InsperEvent mirror row to the GoogleEvent mirror
// row the engine created for it. Keys are mirror row UUIDs, not portal or
// calendar string identifiers.
type EventMapping struct {
	sharedDomain.BaseEntity

	insperEventID uuid.UUID
	googleEventID uuid.UUID
	syncSessionID *uuid.UUID

	status        MappingStatus
	syncDirection string
	lastSyncedAt  *time.Time
	errorMessage  string

	needsManualReview bool
	reviewNotes       string
}

// NewEventMapping links a pair of mirror rows within a session.
func NewEventMapping(insperEventID, googleEventID uuid.UUID, sessionID *uuid.UUID) *EventMapping {
	return &EventMapping{
		BaseEntity:    sharedDomain.NewBaseEntity(),
		insperEventID: insperEventID,
		googleEventID: googleEventID,
		syncSessionID: sessionID,
		status:        MappingStatusPending,
		syncDirection: SyncDirectionInsperToGoogle,
	}
}

// RehydrateEventMapping recreates a mapping from persisted state.
func RehydrateEventMapping(
	id uuid.UUID,
	insperEventID, googleEventID uuid.UUID,
	syncSessionID *uuid.UUID,
	status MappingStatus,
	syncDirection string,
	lastSyncedAt *time.Time,
	errorMessage string,
	needsManualReview bool,
	reviewNotes string,
	createdAt, updatedAt time.Time,
) *EventMapping {
	return &EventMapping{
		BaseEntity:        sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		insperEventID:     insperEventID,
		googleEventID:     googleEventID,
		syncSessionID:     syncSessionID,
		status:            status,
		syncDirection:     syncDirection,
		lastSyncedAt:      lastSyncedAt,
		errorMessage:      errorMessage,
		needsManualReview: needsManualReview,
		reviewNotes:       reviewNotes,
	}
}

func (m *EventMapping) InsperEventID() uuid.UUID  { return m.insperEventID }
func (m *EventMapping) GoogleEventID() uuid.UUID  { return m.googleEventID }
func (m *EventMapping) SyncSessionID() *uuid.UUID { return m.syncSessionID }
func (m *EventMapping) Status() MappingStatus     { return m.status }
func (m *EventMapping) SyncDirection() string     { return m.syncDirection }
func (m *EventMapping) LastSyncedAt() *time.Time  { return m.lastSyncedAt }
func (m *EventMapping) ErrorMessage() string      { return m.errorMessage }
func (m *EventMapping) NeedsManualReview() bool   { return m.needsManualReview }
func (m *EventMapping) ReviewNotes() string       { return m.reviewNotes }

// MarkSynced records a successful write downstream.
func (m *EventMapping) MarkSynced(at time.Time, sessionID *uuid.UUID) {
	t := at.UTC()
	m.status = MappingStatusSynced
	m.lastSyncedAt = &t
	m.errorMessage = ""
	if sessionID != nil {
		m.syncSessionID = sessionID
	}
	m.Touch()
}

// MarkFailed records a failed write, keeping the mapping for retry on the
// next session.
func (m *EventMapping) MarkFailed(message string, sessionID *uuid.UUID) {
	m.status = MappingStatusFailed
	m.errorMessage = message
	if sessionID != nil {
		m.syncSessionID = sessionID
	}
	m.Touch()
}

// MarkDeleted records that the downstream event was removed.
func (m *EventMapping) MarkDeleted(sessionID *uuid.UUID) {
	m.status = MappingStatusDeleted
	if sessionID != nil {
		m.syncSessionID = sessionID
	}
	m.Touch()
}

// FlagForReview marks the mapping for manual attention.
func (m *EventMapping) FlagForReview(notes string) {
	m.status = MappingStatusConflict
	m.needsManualReview = true
	m.reviewNotes = notes
	m.Touch()
}
