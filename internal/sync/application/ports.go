// Package application orchestrates sync runs: it turns scraped portal
// events into calendar writes via the diff-and-apply reconciler, keeps the
// mirror tables current, and records every run as a durable session.
package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/portal"
)

// Private extended-property keys stamped on every calendar event the
// engine writes. insper_event_id is the join key; sync_source marks the
// event as engine-managed and gates the orphan sweep.
const (
	PropInsperEventID    = "insper_event_id"
	PropSyncSource       = "sync_source"
	PropDisciplinaCodigo = "disciplina_codigo"
	PropDocente          = "docente"
	PropTurma            = "turma"

	SyncSourceValue = "insper"
)

// EventBody is the payload the engine writes downstream.
type EventBody struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Timezone    string

	PrivateProperties map[string]string

	SourceTitle string
	SourceURL   string
}

// RemoteEvent is an event read back from the downstream calendar.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Status      string
	HTMLLink    string
	Start       time.Time
	End         time.Time
	AllDay      bool

	PrivateProperties map[string]string

	Raw json.RawMessage
}

// InsperEventID returns the upstream join key stamped on the event, or ""
// for events the engine does not manage.
func (e RemoteEvent) InsperEventID() string {
	return e.PrivateProperties[PropInsperEventID]
}

// SyncedFromInsper reports whether the engine created this event.
func (e RemoteEvent) SyncedFromInsper() bool {
	return e.PrivateProperties[PropSyncSource] == SyncSourceValue
}

// CalendarGateway is the downstream calendar surface the reconciler writes
// through. Implementations resolve OAuth tokens per user.
type CalendarGateway interface {
	FindOrCreateCalendar(ctx context.Context, userID uuid.UUID, name string) (string, error)
	ListEvents(ctx context.Context, userID uuid.UUID, calendarID string, start, end time.Time) ([]RemoteEvent, error)
	CreateEvent(ctx context.Context, userID uuid.UUID, calendarID string, body EventBody) (*RemoteEvent, error)
	UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, body EventBody) (*RemoteEvent, error)
	DeleteEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string) error
}

// PortalGateway is the upstream read surface: one login-scrape round per
// call, returning the events plus any monthly windows that failed.
type PortalGateway interface {
	FetchEvents(ctx context.Context, username, ciphertext string, start, end time.Time) ([]portal.Event, []portal.Window, error)
}
