// Package domain holds the sync engine's entities: the upstream and
// downstream event mirrors, event mappings, sync sessions, and per-user
// sync configuration.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InsperEvent mirrors one upstream portal event for a user, keyed by
// (user, insper_event_id).
type InsperEvent struct {
	ID     uuid.UUID
	UserID uuid.UUID

	// InsperEventID is the portal's eventId, the identity across scrapes.
	InsperEventID string
	// InsperInternalID is the portal's nullable id field, kept for
	// debugging only.
	InsperInternalID string

	Title         string
	Description   string
	StartDatetime time.Time
	EndDatetime   time.Time
	AllDay        bool

	DisciplinaCodigo string
	Docente          string
	Turma            string
	Dependencia      string
	TipoEvento       string
	Timezone         string

	RawData     json.RawMessage
	ContentHash string

	LastSyncedAt *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewInsperEvent creates a mirror row for a freshly scraped event.
func NewInsperEvent(userID uuid.UUID, insperEventID string) *InsperEvent {
	now := time.Now().UTC()
	return &InsperEvent{
		ID:            uuid.New(),
		UserID:        userID,
		InsperEventID: insperEventID,
		Timezone:      "America/Sao_Paulo",
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ComputeContentHash digests the canonical JSON of the change-relevant
// subset. The hash is advisory: the reconciler's field comparison is the
// authoritative change test, but the hash enables cheap "anything changed?"
// queries.
func (e *InsperEvent) ComputeContentHash() string {
	return contentHash(map[string]any{
		"title":             e.Title,
		"description":       e.Description,
		"start_datetime":    e.StartDatetime.Format(time.RFC3339),
		"end_datetime":      e.EndDatetime.Format(time.RFC3339),
		"all_day":           e.AllDay,
		"disciplina_codigo": e.DisciplinaCodigo,
		"docente":           e.Docente,
		"turma":             e.Turma,
		"tipo_evento":       e.TipoEvento,
	})
}

// Touch refreshes the update stamp.
func (e *InsperEvent) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// MarkSynced stamps the last successful sync.
func (e *InsperEvent) MarkSynced(at time.Time) {
	t := at.UTC()
	e.LastSyncedAt = &t
	e.Touch()
}

// contentHash is the shared digest: hex MD5 over the sorted-key JSON
// serialisation (encoding/json emits map keys in sorted order).
func contentHash(subset map[string]any) string {
	canonical, err := json.Marshal(subset)
	if err != nil {
		return ""
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}
