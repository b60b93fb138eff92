package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/inspersync/inspersync/internal/shared/domain"
)

// SessionStatus is the lifecycle state of a sync session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	// SessionStatusPartial is a valid persisted value but no flow emits it;
	// per-event failures close as completed with events_failed > 0.
	SessionStatusPartial SessionStatus = "partial"
)

// SyncSession is the durable record of one sync run: its window, its
// counters, and how it ended.
type SyncSession struct {
	sharedDomain.BaseEntity

	userID      uuid.UUID
	status      SessionStatus
	startedAt   time.Time
	completedAt *time.Time

	syncStartDate *time.Time
	syncEndDate   *time.Time

	insperEventsFound int
	googleEventsFound int
	eventsCreated     int
	eventsUpdated     int
	eventsDeleted     int
	eventsFailed      int

	errorMessage string
	errorDetails map[string]any
}

// NewSyncSession starts a running session over the given window.
func NewSyncSession(userID uuid.UUID, start, end time.Time) *SyncSession {
	s := start.UTC()
	e := end.UTC()
	return &SyncSession{
		BaseEntity:    sharedDomain.NewBaseEntity(),
		userID:        userID,
		status:        SessionStatusRunning,
		startedAt:     time.Now().UTC(),
		syncStartDate: &s,
		syncEndDate:   &e,
		errorDetails:  map[string]any{},
	}
}

// RehydrateSyncSession recreates a session from persisted state.
func RehydrateSyncSession(
	id uuid.UUID,
	userID uuid.UUID,
	status SessionStatus,
	startedAt time.Time,
	completedAt *time.Time,
	syncStartDate, syncEndDate *time.Time,
	insperEventsFound, googleEventsFound int,
	eventsCreated, eventsUpdated, eventsDeleted, eventsFailed int,
	errorMessage string,
	errorDetails map[string]any,
	createdAt, updatedAt time.Time,
) *SyncSession {
	if errorDetails == nil {
		errorDetails = map[string]any{}
	}
	return &SyncSession{
		BaseEntity:        sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		userID:            userID,
		status:            status,
		startedAt:         startedAt,
		completedAt:       completedAt,
		syncStartDate:     syncStartDate,
		syncEndDate:       syncEndDate,
		insperEventsFound: insperEventsFound,
		googleEventsFound: googleEventsFound,
		eventsCreated:     eventsCreated,
		eventsUpdated:     eventsUpdated,
		eventsDeleted:     eventsDeleted,
		eventsFailed:      eventsFailed,
		errorMessage:      errorMessage,
		errorDetails:      errorDetails,
	}
}

func (s *SyncSession) UserID() uuid.UUID         { return s.userID }
func (s *SyncSession) Status() SessionStatus     { return s.status }
func (s *SyncSession) StartedAt() time.Time      { return s.startedAt }
func (s *SyncSession) CompletedAt() *time.Time   { return s.completedAt }
func (s *SyncSession) SyncStartDate() *time.Time { return s.syncStartDate }
func (s *SyncSession) SyncEndDate() *time.Time   { return s.syncEndDate }

func (s *SyncSession) InsperEventsFound() int { return s.insperEventsFound }
func (s *SyncSession) GoogleEventsFound() int { return s.googleEventsFound }
func (s *SyncSession) EventsCreated() int     { return s.eventsCreated }
func (s *SyncSession) EventsUpdated() int     { return s.eventsUpdated }
func (s *SyncSession) EventsDeleted() int     { return s.eventsDeleted }
func (s *SyncSession) EventsFailed() int      { return s.eventsFailed }

func (s *SyncSession) ErrorMessage() string         { return s.errorMessage }
func (s *SyncSession) ErrorDetails() map[string]any { return s.errorDetails }

// Running reports whether the session has not finished yet.
func (s *SyncSession) Running() bool { return s.status == SessionStatusRunning }

// RecordDiscovery sets the counts of events found on each side.
func (s *SyncSession) RecordDiscovery(insperFound, googleFound int) {
	s.insperEventsFound = insperFound
	s.googleEventsFound = googleFound
	s.Touch()
}

func (s *SyncSession) RecordCreated() { s.eventsCreated++; s.Touch() }
func (s *SyncSession) RecordUpdated() { s.eventsUpdated++; s.Touch() }
func (s *SyncSession) RecordDeleted() { s.eventsDeleted++; s.Touch() }
func (s *SyncSession) RecordFailed()  { s.eventsFailed++; s.Touch() }

// MarkCompleted closes the session as completed. Per-event failures stay
// visible through the events_failed counter, not the status.
func (s *SyncSession) MarkCompleted() {
	now := time.Now().UTC()
	s.completedAt = &now
	s.status = SessionStatusCompleted
	s.Touch()
}

// MarkFailed closes the session after a run-level failure (login, scrape,
// token refresh). Per-event counters keep whatever was achieved before the
// failure.
func (s *SyncSession) MarkFailed(message string, details map[string]any) {
	now := time.Now().UTC()
	s.completedAt = &now
	s.status = SessionStatusFailed
	s.errorMessage = message
	if details != nil {
		s.errorDetails = details
	}
	s.Touch()
}

// Duration returns how long the session ran, or time since start for a
// still-running one.
func (s *SyncSession) Duration() time.Duration {
	if s.completedAt != nil {
		return s.completedAt.Sub(s.startedAt)
	}
	return time.Since(s.startedAt)
}
