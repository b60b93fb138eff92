package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// SQLiteSyncSessionRepository implements SyncSessionRepository using SQLite
// (local mode).
type SQLiteSyncSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSyncSessionRepository creates the repository.
func NewSQLiteSyncSessionRepository(db *sql.DB) *SQLiteSyncSessionRepository {
	return &SQLiteSyncSessionRepository{db: db}
}

// Save upserts a session.
func (r *SQLiteSyncSessionRepository) Save(ctx context.Context, session *domain.SyncSession) error {
	details, err := json.Marshal(session.ErrorDetails())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_sessions (` + syncSessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			insper_events_found = excluded.insper_events_found,
			google_events_found = excluded.google_events_found,
			events_created = excluded.events_created,
			events_updated = excluded.events_updated,
			events_deleted = excluded.events_deleted,
			events_failed = excluded.events_failed,
			error_message = excluded.error_message,
			error_details = excluded.error_details,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		session.ID().String(), session.UserID().String(), string(session.Status()),
		timeString(session.StartedAt()), timePtrString(session.CompletedAt()),
		timePtrString(session.SyncStartDate()), timePtrString(session.SyncEndDate()),
		session.InsperEventsFound(), session.GoogleEventsFound(),
		session.EventsCreated(), session.EventsUpdated(), session.EventsDeleted(), session.EventsFailed(),
		session.ErrorMessage(), string(details),
		timeString(session.CreatedAt()), timeString(session.UpdatedAt()),
	)
	return err
}

// FindByID finds a session.
func (r *SQLiteSyncSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SyncSession, error) {
	query := `SELECT ` + syncSessionColumns + ` FROM sync_sessions WHERE id = ?`
	session, err := scanSQLiteSyncSession(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// FindRunningSince returns running sessions started after the given instant.
func (r *SQLiteSyncSessionRepository) FindRunningSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*domain.SyncSession, error) {
	query := `
		SELECT ` + syncSessionColumns + `
		FROM sync_sessions
		WHERE user_id = ? AND status = 'running' AND started_at > ?
		ORDER BY started_at DESC
	`
	return r.queryMany(ctx, query, userID.String(), timeString(since))
}

// ListRecent returns the user's newest sessions first.
func (r *SQLiteSyncSessionRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SyncSession, error) {
	query := `
		SELECT ` + syncSessionColumns + `
		FROM sync_sessions
		WHERE user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	return r.queryMany(ctx, query, userID.String(), limit)
}

// DeleteOlderThan removes sessions started before the cutoff and reports
// how many went away.
func (r *SQLiteSyncSessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_sessions WHERE started_at < ?`, timeString(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLiteSyncSessionRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.SyncSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.SyncSession
	for rows.Next() {
		session, err := scanSQLiteSyncSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSQLiteSyncSession(row sqliteScanner) (*domain.SyncSession, error) {
	var (
		idStr, userIDStr         string
		status                   string
		startedAtStr             string
		completedAtStr           sql.NullString
		startDateStr, endDateStr sql.NullString
		insperFound, googleFound int
		created, updated         int
		deleted, failed          int
		errorMessage             string
		detailsRaw               string
		createdAtStr, updAtStr   string
	)

	err := row.Scan(
		&idStr, &userIDStr, &status, &startedAtStr, &completedAtStr,
		&startDateStr, &endDateStr,
		&insperFound, &googleFound,
		&created, &updated, &deleted, &failed,
		&errorMessage, &detailsRaw, &createdAtStr, &updAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}
	startedAt, err := parseSQLiteTime(startedAtStr)
	if err != nil {
		return nil, err
	}
	completedAt, err := nullStringTimePtr(completedAtStr)
	if err != nil {
		return nil, err
	}
	syncStart, err := nullStringTimePtr(startDateStr)
	if err != nil {
		return nil, err
	}
	syncEnd, err := nullStringTimePtr(endDateStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseSQLiteTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseSQLiteTime(updAtStr)
	if err != nil {
		return nil, err
	}

	var details map[string]any
	if detailsRaw != "" {
		if err := json.Unmarshal([]byte(detailsRaw), &details); err != nil {
			return nil, err
		}
	}

	return domain.RehydrateSyncSession(
		id, userID, domain.SessionStatus(status),
		startedAt, completedAt,
		syncStart, syncEnd,
		insperFound, googleFound,
		created, updated, deleted, failed,
		errorMessage, details,
		createdAt, updatedAt,
	), nil
}
