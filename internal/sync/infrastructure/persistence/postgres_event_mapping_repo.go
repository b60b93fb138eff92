package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventMappingColumns = `id, insper_event_id, google_event_id, sync_session_id,
	status, sync_direction, last_synced_at, error_message,
	needs_manual_review, review_notes, created_at, updated_at`

// PostgresEventMappingRepository implements EventMappingRepository using
// PostgreSQL.
type PostgresEventMappingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventMappingRepository creates the repository.
func NewPostgresEventMappingRepository(pool *pgxpool.Pool) *PostgresEventMappingRepository {
	return &PostgresEventMappingRepository{pool: pool}
}

// Save upserts a mapping.
func (r *PostgresEventMappingRepository) Save(ctx context.Context, mapping *domain.EventMapping) error {
	query := `
		INSERT INTO event_mappings (` + eventMappingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (insper_event_id, google_event_id) DO UPDATE SET
			sync_session_id = EXCLUDED.sync_session_id,
			status = EXCLUDED.status,
			sync_direction = EXCLUDED.sync_direction,
			last_synced_at = EXCLUDED.last_synced_at,
			error_message = EXCLUDED.error_message,
			needs_manual_review = EXCLUDED.needs_manual_review,
			review_notes = EXCLUDED.review_notes,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		mapping.ID(), mapping.InsperEventID(), mapping.GoogleEventID(), mapping.SyncSessionID(),
		string(mapping.Status()), mapping.SyncDirection(), mapping.LastSyncedAt(), mapping.ErrorMessage(),
		mapping.NeedsManualReview(), mapping.ReviewNotes(), mapping.CreatedAt(), mapping.UpdatedAt(),
	)
	return err
}

// FindByInsperEventID finds the mapping for an upstream mirror row.
func (r *PostgresEventMappingRepository) FindByInsperEventID(ctx context.Context, insperEventID uuid.UUID) (*domain.EventMapping, error) {
	query := `SELECT ` + eventMappingColumns + ` FROM event_mappings WHERE insper_event_id = $1`
	mapping, err := scanEventMapping(r.pool.QueryRow(ctx, query, insperEventID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return mapping, nil
}

// FindByUser returns all mappings whose upstream row belongs to the user.
func (r *PostgresEventMappingRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EventMapping, error) {
	query := `
		SELECT m.id, m.insper_event_id, m.google_event_id, m.sync_session_id,
			m.status, m.sync_direction, m.last_synced_at, m.error_message,
			m.needs_manual_review, m.review_notes, m.created_at, m.updated_at
		FROM event_mappings m
		JOIN insper_events e ON e.id = m.insper_event_id
		WHERE e.user_id = $1
		ORDER BY m.created_at
	`
	return r.queryMany(ctx, query, userID)
}

// FindNeedingReview returns the user's mappings flagged for manual review.
func (r *PostgresEventMappingRepository) FindNeedingReview(ctx context.Context, userID uuid.UUID) ([]*domain.EventMapping, error) {
	query := `
		SELECT m.id, m.insper_event_id, m.google_event_id, m.sync_session_id,
			m.status, m.sync_direction, m.last_synced_at, m.error_message,
			m.needs_manual_review, m.review_notes, m.created_at, m.updated_at
		FROM event_mappings m
		JOIN insper_events e ON e.id = m.insper_event_id
		WHERE e.user_id = $1 AND m.needs_manual_review = TRUE
		ORDER BY m.created_at
	`
	return r.queryMany(ctx, query, userID)
}

// Delete removes a mapping.
func (r *PostgresEventMappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM event_mappings WHERE id = $1`, id)
	return err
}

func (r *PostgresEventMappingRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.EventMapping, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*domain.EventMapping
	for rows.Next() {
		mapping, err := scanEventMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

func scanEventMapping(row pgx.Row) (*domain.EventMapping, error) {
	var (
		id, insperEventID, googleEventID uuid.UUID
		syncSessionID                    *uuid.UUID
		status, syncDirection            string
		lastSyncedAt                     sql.NullTime
		errorMessage                     string
		needsManualReview                bool
		reviewNotes                      string
		createdAt, updatedAt             time.Time
	)

	err := row.Scan(
		&id, &insperEventID, &googleEventID, &syncSessionID,
		&status, &syncDirection, &lastSyncedAt, &errorMessage,
		&needsManualReview, &reviewNotes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateEventMapping(
		id, insperEventID, googleEventID, syncSessionID,
		domain.MappingStatus(status), syncDirection,
		nullTimePtr(lastSyncedAt), errorMessage,
		needsManualReview, reviewNotes,
		createdAt, updatedAt,
	), nil
}
