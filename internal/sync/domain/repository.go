package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsperEventRepository persists upstream mirror rows.
type InsperEventRepository interface {
	Save(ctx context.Context, event *InsperEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*InsperEvent, error)
	FindByUserAndInsperID(ctx context.Context, userID uuid.UUID, insperEventID string) (*InsperEvent, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*InsperEvent, error)
	FindByUserInRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*InsperEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// GoogleEventRepository persists downstream mirror rows.
type GoogleEventRepository interface {
	Save(ctx context.Context, event *GoogleEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*GoogleEvent, error)
	FindByUserAndGoogleID(ctx context.Context, userID uuid.UUID, googleEventID string) (*GoogleEvent, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*GoogleEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventMappingRepository persists upstream-to-downstream links.
type EventMappingRepository interface {
	Save(ctx context.Context, mapping *EventMapping) error
	FindByInsperEventID(ctx context.Context, insperEventID uuid.UUID) (*EventMapping, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*EventMapping, error)
	FindNeedingReview(ctx context.Context, userID uuid.UUID) ([]*EventMapping, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SyncSessionRepository persists sync run records.
type SyncSessionRepository interface {
	Save(ctx context.Context, session *SyncSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*SyncSession, error)
	FindRunningSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*SyncSession, error)
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*SyncSession, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncConfigurationRepository persists per-user sync preferences.
type SyncConfigurationRepository interface {
	Save(ctx context.Context, config *SyncConfiguration) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*SyncConfiguration, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
