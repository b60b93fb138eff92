package persistence

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const googleEventColumns = `id, user_id, google_event_id, google_calendar_id,
	title, description, start_datetime, end_datetime, all_day,
	location, html_link, synced_from_insper,
	raw_data, content_hash, last_synced_at, is_active, created_at, updated_at`

// PostgresGoogleEventRepository implements GoogleEventRepository using
// PostgreSQL.
type PostgresGoogleEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresGoogleEventRepository creates the repository.
func NewPostgresGoogleEventRepository(pool *pgxpool.Pool) *PostgresGoogleEventRepository {
	return &PostgresGoogleEventRepository{pool: pool}
}

// Save upserts a downstream mirror row, recomputing its content hash.
func (r *PostgresGoogleEventRepository) Save(ctx context.Context, event *domain.GoogleEvent) error {
	event.ContentHash = event.ComputeContentHash()

	query := `
		INSERT INTO google_events (` + googleEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id, google_event_id) DO UPDATE SET
			google_calendar_id = EXCLUDED.google_calendar_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_datetime = EXCLUDED.start_datetime,
			end_datetime = EXCLUDED.end_datetime,
			all_day = EXCLUDED.all_day,
			location = EXCLUDED.location,
			html_link = EXCLUDED.html_link,
			synced_from_insper = EXCLUDED.synced_from_insper,
			raw_data = EXCLUDED.raw_data,
			content_hash = EXCLUDED.content_hash,
			last_synced_at = EXCLUDED.last_synced_at,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.GoogleEventID, event.GoogleCalendarID,
		event.Title, event.Description, event.StartDatetime, event.EndDatetime, event.AllDay,
		event.Location, event.HTMLLink, event.SyncedFromInsper,
		rawOrEmpty(event.RawData), event.ContentHash, event.LastSyncedAt, event.IsActive,
		event.CreatedAt, event.UpdatedAt,
	)
	return err
}

// FindByID finds a mirror row by primary key.
func (r *PostgresGoogleEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.GoogleEvent, error) {
	query := `SELECT ` + googleEventColumns + ` FROM google_events WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// FindByUserAndGoogleID finds a mirror row by its calendar identity.
func (r *PostgresGoogleEventRepository) FindByUserAndGoogleID(ctx context.Context, userID uuid.UUID, googleEventID string) (*domain.GoogleEvent, error) {
	query := `SELECT ` + googleEventColumns + ` FROM google_events WHERE user_id = $1 AND google_event_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, userID, googleEventID))
}

// FindActiveByUser returns the user's active mirror rows ordered by start.
func (r *PostgresGoogleEventRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.GoogleEvent, error) {
	query := `
		SELECT ` + googleEventColumns + `
		FROM google_events
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY start_datetime
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.GoogleEvent
	for rows.Next() {
		event, err := scanGoogleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Delete removes a mirror row.
func (r *PostgresGoogleEventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM google_events WHERE id = $1`, id)
	return err
}

func (r *PostgresGoogleEventRepository) scanOne(row pgx.Row) (*domain.GoogleEvent, error) {
	event, err := scanGoogleEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

func scanGoogleEvent(row pgx.Row) (*domain.GoogleEvent, error) {
	var (
		event        domain.GoogleEvent
		raw          []byte
		lastSyncedAt sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.UserID, &event.GoogleEventID, &event.GoogleCalendarID,
		&event.Title, &event.Description, &event.StartDatetime, &event.EndDatetime, &event.AllDay,
		&event.Location, &event.HTMLLink, &event.SyncedFromInsper,
		&raw, &event.ContentHash, &lastSyncedAt, &event.IsActive,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.RawData = json.RawMessage(raw)
	event.LastSyncedAt = nullTimePtr(lastSyncedAt)
	return &event, nil
}
