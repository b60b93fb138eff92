package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// SQLiteGoogleEventRepository implements GoogleEventRepository using SQLite
// (local mode).
type SQLiteGoogleEventRepository struct {
	db *sql.DB
}

// NewSQLiteGoogleEventRepository creates the repository.
func NewSQLiteGoogleEventRepository(db *sql.DB) *SQLiteGoogleEventRepository {
	return &SQLiteGoogleEventRepository{db: db}
}

// Save upserts a downstream mirror row, recomputing its content hash.
func (r *SQLiteGoogleEventRepository) Save(ctx context.Context, event *domain.GoogleEvent) error {
	event.ContentHash = event.ComputeContentHash()

	query := `
		INSERT INTO google_events (` + googleEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, google_event_id) DO UPDATE SET
			google_calendar_id = excluded.google_calendar_id,
			title = excluded.title,
			description = excluded.description,
			start_datetime = excluded.start_datetime,
			end_datetime = excluded.end_datetime,
			all_day = excluded.all_day,
			location = excluded.location,
			html_link = excluded.html_link,
			synced_from_insper = excluded.synced_from_insper,
			raw_data = excluded.raw_data,
			content_hash = excluded.content_hash,
			last_synced_at = excluded.last_synced_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID.String(), event.UserID.String(), event.GoogleEventID, event.GoogleCalendarID,
		event.Title, event.Description,
		event.StartDatetime.UTC().Format(time.RFC3339Nano), event.EndDatetime.UTC().Format(time.RFC3339Nano),
		boolInt(event.AllDay),
		event.Location, event.HTMLLink, boolInt(event.SyncedFromInsper),
		string(rawOrEmpty(event.RawData)), event.ContentHash, timePtrString(event.LastSyncedAt), boolInt(event.IsActive),
		event.CreatedAt.UTC().Format(time.RFC3339Nano), event.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// FindByID finds a mirror row by primary key.
func (r *SQLiteGoogleEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.GoogleEvent, error) {
	query := `SELECT ` + googleEventColumns + ` FROM google_events WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()))
}

// FindByUserAndGoogleID finds a mirror row by its calendar identity.
func (r *SQLiteGoogleEventRepository) FindByUserAndGoogleID(ctx context.Context, userID uuid.UUID, googleEventID string) (*domain.GoogleEvent, error) {
	query := `SELECT ` + googleEventColumns + ` FROM google_events WHERE user_id = ? AND google_event_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID.String(), googleEventID))
}

// FindActiveByUser returns the user's active mirror rows ordered by start.
func (r *SQLiteGoogleEventRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.GoogleEvent, error) {
	query := `
		SELECT ` + googleEventColumns + `
		FROM google_events
		WHERE user_id = ? AND is_active = 1
		ORDER BY start_datetime
	`
	rows, err := r.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.GoogleEvent
	for rows.Next() {
		event, err := scanSQLiteGoogleEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Delete removes a mirror row.
func (r *SQLiteGoogleEventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM google_events WHERE id = ?`, id.String())
	return err
}

func (r *SQLiteGoogleEventRepository) scanOne(row *sql.Row) (*domain.GoogleEvent, error) {
	event, err := scanSQLiteGoogleEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

func scanSQLiteGoogleEvent(row sqliteScanner) (*domain.GoogleEvent, error) {
	var (
		idStr, userIDStr       string
		googleEventID          string
		googleCalendarID       string
		title, description     string
		startStr, endStr       string
		allDay                 int
		location, htmlLink     string
		syncedFromInsper       int
		raw, contentHash       string
		lastSyncedAt           sql.NullString
		isActive               int
		createdAtStr, updAtStr string
	)

	err := row.Scan(
		&idStr, &userIDStr, &googleEventID, &googleCalendarID,
		&title, &description, &startStr, &endStr, &allDay,
		&location, &htmlLink, &syncedFromInsper,
		&raw, &contentHash, &lastSyncedAt, &isActive,
		&createdAtStr, &updAtStr,
	)
	if err != nil {
		return nil, err
	}

	event := &domain.GoogleEvent{
		GoogleEventID:    googleEventID,
		GoogleCalendarID: googleCalendarID,
		Title:            title,
		Description:      description,
		AllDay:           allDay != 0,
		Location:         location,
		HTMLLink:         htmlLink,
		SyncedFromInsper: syncedFromInsper != 0,
		RawData:          json.RawMessage(raw),
		ContentHash:      contentHash,
		IsActive:         isActive != 0,
	}

	if event.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if event.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, err
	}
	if event.StartDatetime, err = parseSQLiteTime(startStr); err != nil {
		return nil, err
	}
	if event.EndDatetime, err = parseSQLiteTime(endStr); err != nil {
		return nil, err
	}
	if event.LastSyncedAt, err = nullStringTimePtr(lastSyncedAt); err != nil {
		return nil, err
	}
	if event.CreatedAt, err = parseSQLiteTime(createdAtStr); err != nil {
		return nil, err
	}
	if event.UpdatedAt, err = parseSQLiteTime(updAtStr); err != nil {
		return nil, err
	}
	return event, nil
}
