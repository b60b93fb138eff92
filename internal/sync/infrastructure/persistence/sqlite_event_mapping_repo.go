package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// SQLiteEventMappingRepository implements EventMappingRepository using SQLite
// (local mode).
type SQLiteEventMappingRepository struct {
	db *sql.DB
}

// NewSQLiteEventMappingRepository creates the repository.
func NewSQLiteEventMappingRepository(db *sql.DB) *SQLiteEventMappingRepository {
	return &SQLiteEventMappingRepository{db: db}
}

// Save upserts a mapping.
func (r *SQLiteEventMappingRepository) Save(ctx context.Context, mapping *domain.EventMapping) error {
	query := `
		INSERT INTO event_mappings (` + eventMappingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (insper_event_id, google_event_id) DO UPDATE SET
			sync_session_id = excluded.sync_session_id,
			status = excluded.status,
			sync_direction = excluded.sync_direction,
			last_synced_at = excluded.last_synced_at,
			error_message = excluded.error_message,
			needs_manual_review = excluded.needs_manual_review,
			review_notes = excluded.review_notes,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		mapping.ID().String(), mapping.InsperEventID().String(), mapping.GoogleEventID().String(),
		uuidPtrString(mapping.SyncSessionID()),
		string(mapping.Status()), mapping.SyncDirection(),
		timePtrString(mapping.LastSyncedAt()), mapping.ErrorMessage(),
		boolInt(mapping.NeedsManualReview()), mapping.ReviewNotes(),
		timeString(mapping.CreatedAt()), timeString(mapping.UpdatedAt()),
	)
	return err
}

// FindByInsperEventID finds the mapping for an upstream mirror row.
func (r *SQLiteEventMappingRepository) FindByInsperEventID(ctx context.Context, insperEventID uuid.UUID) (*domain.EventMapping, error) {
	query := `SELECT ` + eventMappingColumns + ` FROM event_mappings WHERE insper_event_id = ?`
	mapping, err := scanSQLiteEventMapping(r.db.QueryRowContext(ctx, query, insperEventID.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return mapping, nil
}

// FindByUser returns all mappings whose upstream row belongs to the user.
func (r *SQLiteEventMappingRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EventMapping, error) {
	query := `
		SELECT m.id, m.insper_event_id, m.google_event_id, m.sync_session_id,
			m.status, m.sync_direction, m.last_synced_at, m.error_message,
			m.needs_manual_review, m.review_notes, m.created_at, m.updated_at
		FROM event_mappings m
		JOIN insper_events e ON e.id = m.insper_event_id
		WHERE e.user_id = ?
		ORDER BY m.created_at
	`
	return r.queryMany(ctx, query, userID.String())
}

// FindNeedingReview returns the user's mappings flagged for manual review.
func (r *SQLiteEventMappingRepository) FindNeedingReview(ctx context.Context, userID uuid.UUID) ([]*domain.EventMapping, error) {
	query := `
		SELECT m.id, m.insper_event_id, m.google_event_id, m.sync_session_id,
			m.status, m.sync_direction, m.last_synced_at, m.error_message,
			m.needs_manual_review, m.review_notes, m.created_at, m.updated_at
		FROM event_mappings m
		JOIN insper_events e ON e.id = m.insper_event_id
		WHERE e.user_id = ? AND m.needs_manual_review = 1
		ORDER BY m.created_at
	`
	return r.queryMany(ctx, query, userID.String())
}

// Delete removes a mapping.
func (r *SQLiteEventMappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM event_mappings WHERE id = ?`, id.String())
	return err
}

func (r *SQLiteEventMappingRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.EventMapping, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*domain.EventMapping
	for rows.Next() {
		mapping, err := scanSQLiteEventMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

func scanSQLiteEventMapping(row sqliteScanner) (*domain.EventMapping, error) {
	var (
		idStr, insperIDStr, googleIDStr string
		sessionIDStr                    sql.NullString
		status, syncDirection           string
		lastSyncedAt                    sql.NullString
		errorMessage                    string
		needsManualReview               int
		reviewNotes                     string
		createdAtStr, updAtStr          string
	)

	err := row.Scan(
		&idStr, &insperIDStr, &googleIDStr, &sessionIDStr,
		&status, &syncDirection, &lastSyncedAt, &errorMessage,
		&needsManualReview, &reviewNotes, &createdAtStr, &updAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	insperEventID, err := uuid.Parse(insperIDStr)
	if err != nil {
		return nil, err
	}
	googleEventID, err := uuid.Parse(googleIDStr)
	if err != nil {
		return nil, err
	}
	var sessionID *uuid.UUID
	if sessionIDStr.Valid && sessionIDStr.String != "" {
		parsed, err := uuid.Parse(sessionIDStr.String)
		if err != nil {
			return nil, err
		}
		sessionID = &parsed
	}
	syncedAt, err := nullStringTimePtr(lastSyncedAt)
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

	return domain.RehydrateEventMapping(
		id, insperEventID, googleEventID, sessionID,
		domain.MappingStatus(status), syncDirection,
		syncedAt, errorMessage,
		needsManualReview != 0, reviewNotes,
		createdAt, updatedAt,
	), nil
}

func uuidPtrString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
