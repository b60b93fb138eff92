package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// StatusReport is the read-model behind `sync status`.
type StatusReport struct {
	UserID       uuid.UUID
	Email        string
	Capabilities identityDomain.Capabilities
	LastSyncAt   *time.Time

	Config      *domain.SyncConfiguration
	LastSession *domain.SyncSession
	Running     bool
}

// Queries answers read-only questions about a user's sync state.
type Queries struct {
	users    identityDomain.UserRepository
	configs  domain.SyncConfigurationRepository
	sessions domain.SyncSessionRepository
	now      func() time.Time
}

// NewQueries creates the query service.
func NewQueries(
	users identityDomain.UserRepository,
	configs domain.SyncConfigurationRepository,
	sessions domain.SyncSessionRepository,
) *Queries {
	return &Queries{users: users, configs: configs, sessions: sessions, now: time.Now}
}

// Status assembles the current sync state for a user.
func (q *Queries) Status(ctx context.Context, userID uuid.UUID) (*StatusReport, error) {
	user, err := q.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	config, err := q.configs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync configuration: %w", err)
	}

	recent, err := q.sessions.ListRecent(ctx, userID, 1)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	report := &StatusReport{
		UserID:       user.ID(),
		Email:        user.Email(),
		Capabilities: user.Capabilities(),
		LastSyncAt:   user.LastSyncAt(),
		Config:       config,
	}
	if len(recent) > 0 {
		report.LastSession = recent[0]
		report.Running = recent[0].Running() && recent[0].StartedAt().After(q.now().Add(-runningSessionWindow))
	}
	return report, nil
}

// History returns the user's most recent sessions, newest first.
func (q *Queries) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SyncSession, error) {
	if limit <= 0 {
		limit = 10
	}
	return q.sessions.ListRecent(ctx, userID, limit)
}
