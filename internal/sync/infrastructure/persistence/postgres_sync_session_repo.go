package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const syncSessionColumns = `id, user_id, status, started_at, completed_at,
	sync_start_date, sync_end_date,
	insper_events_found, google_events_found,
	events_created, events_updated, events_deleted, events_failed,
	error_message, error_details, created_at, updated_at`

// PostgresSyncSessionRepository implements SyncSessionRepository using
// PostgreSQL.
type PostgresSyncSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSyncSessionRepository creates the repository.
func NewPostgresSyncSessionRepository(pool *pgxpool.Pool) *PostgresSyncSessionRepository {
	return &PostgresSyncSessionRepository{pool: pool}
}

// Save upserts a session.
func (r *PostgresSyncSessionRepository) Save(ctx context.Context, session *domain.SyncSession) error {
	details, err := json.Marshal(session.ErrorDetails())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_sessions (` + syncSessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			insper_events_found = EXCLUDED.insper_events_found,
			google_events_found = EXCLUDED.google_events_found,
			events_created = EXCLUDED.events_created,
			events_updated = EXCLUDED.events_updated,
			events_deleted = EXCLUDED.events_deleted,
			events_failed = EXCLUDED.events_failed,
			error_message = EXCLUDED.error_message,
			error_details = EXCLUDED.error_details,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(ctx, query,
		session.ID(), session.UserID(), string(session.Status()), session.StartedAt(), session.CompletedAt(),
		session.SyncStartDate(), session.SyncEndDate(),
		session.InsperEventsFound(), session.GoogleEventsFound(),
		session.EventsCreated(), session.EventsUpdated(), session.EventsDeleted(), session.EventsFailed(),
		session.ErrorMessage(), details, session.CreatedAt(), session.UpdatedAt(),
	)
	return err
}

// FindByID finds a session.
func (r *PostgresSyncSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	query := `SELECT ` + syncSessionColumns + ` FROM sync_sessions WHERE id = $1`
	session, err := scanSyncSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// FindRunningSince returns running sessions started after the given instant.
func (r *PostgresSyncSessionRepository) FindRunningSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*domain.SyncSession, error) {
	query := `
		SELECT ` + syncSessionColumns + `
		FROM sync_sessions
		WHERE user_id = $1 AND status = 'running' AND started_at > $2
		ORDER BY started_at DESC
	`
	return r.queryMany(ctx, query, userID, since)
}

// ListRecent returns the user's newest sessions first.
func (r *PostgresSyncSessionRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SyncSession, error) {
	query := `
		SELECT ` + syncSessionColumns + `
		FROM sync_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	return r.queryMany(ctx, query, userID, limit)
}

// DeleteOlderThan removes sessions started before the cutoff and reports
// how many went away.
func (r *PostgresSyncSessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_sessions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresSyncSessionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.SyncSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.SyncSession
	for rows.Next() {
		session, err := scanSyncSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSyncSession(row pgx.Row) (*domain.SyncSession, error) {
	var (
		id, userID                 uuid.UUID
		status                     string
		startedAt                  time.Time
		completedAt                sql.NullTime
		syncStartDate, syncEndDate sql.NullTime
		insperFound, googleFound   int
		created, updated           int
		deleted, failed            int
		errorMessage               string
		detailsRaw                 []byte
		createdAt, updatedAt       time.Time
	)

	err := row.Scan(
		&id, &userID, &status, &startedAt, &completedAt,
		&syncStartDate, &syncEndDate,
		&insperFound, &googleFound,
		&created, &updated, &deleted, &failed,
		&errorMessage, &detailsRaw, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var details map[string]any
	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &details); err != nil {
			return nil, err
		}
	}

	return domain.RehydrateSyncSession(
		id, userID, domain.SessionStatus(status),
		startedAt, nullTimePtr(completedAt),
		nullTimePtr(syncStartDate), nullTimePtr(syncEndDate),
		insperFound, googleFound,
		created, updated, deleted, failed,
		errorMessage, details,
		createdAt, updatedAt,
	), nil
}
