// Package persistence provides the Postgres and SQLite repositories for
// the sync module's mirror tables, mappings, sessions, and configuration.
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

const insperEventColumns = `id, user_id, insper_event_id, insper_internal_id,
	title, description, start_datetime, end_datetime, all_day,
	disciplina_codigo, docente, turma, dependencia, tipo_evento, timezone,
	raw_data, content_hash, last_synced_at, is_active, created_at, updated_at`

// PostgresInsperEventRepository implements InsperEventRepository using
// PostgreSQL.
type PostgresInsperEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresInsperEventRepository creates the repository.
func NewPostgresInsperEventRepository(pool *pgxpool.Pool) *PostgresInsperEventRepository {
	return &PostgresInsperEventRepository{pool: pool}
}

// Save upserts an upstream mirror row, recomputing its content hash.
func (r *PostgresInsperEventRepository) Save(ctx context.Context, event *domain.InsperEvent) error {
	event.ContentHash = event.ComputeContentHash()

	query := `
		INSERT INTO insper_events (` + insperEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (user_id, insper_event_id) DO UPDATE SET
			insper_internal_id = EXCLUDED.insper_internal_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_datetime = EXCLUDED.start_datetime,
			end_datetime = EXCLUDED.end_datetime,
			all_day = EXCLUDED.all_day,
			disciplina_codigo = EXCLUDED.disciplina_codigo,
			docente = EXCLUDED.docente,
			turma = EXCLUDED.turma,
			dependencia = EXCLUDED.dependencia,
			tipo_evento = EXCLUDED.tipo_evento,
			timezone = EXCLUDED.timezone,
			raw_data = EXCLUDED.raw_data,
			content_hash = EXCLUDED.content_hash,
			last_synced_at = EXCLUDED.last_synced_at,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.InsperEventID, event.InsperInternalID,
		event.Title, event.Description, event.StartDatetime, event.EndDatetime, event.AllDay,
		event.DisciplinaCodigo, event.Docente, event.Turma, event.Dependencia, event.TipoEvento, event.Timezone,
		rawOrEmpty(event.RawData), event.ContentHash, event.LastSyncedAt, event.IsActive,
		event.CreatedAt, event.UpdatedAt,
	)
	return err
}

// FindByID finds a mirror row by primary key.
func (r *PostgresInsperEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.InsperEvent, error) {
	query := `SELECT ` + insperEventColumns + ` FROM insper_events WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// FindByUserAndInsperID finds a mirror row by its portal identity.
func (r *PostgresInsperEventRepository) FindByUserAndInsperID(ctx context.Context, userID uuid.UUID, insperEventID string) (*domain.InsperEvent, error) {
	query := `SELECT ` + insperEventColumns + ` FROM insper_events WHERE user_id = $1 AND insper_event_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, userID, insperEventID))
}

// FindActiveByUser returns the user's active mirror rows ordered by start.
func (r *PostgresInsperEventRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.InsperEvent, error) {
	query := `
		SELECT ` + insperEventColumns + `
		FROM insper_events
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY start_datetime
	`
	return r.queryMany(ctx, query, userID)
}

// FindByUserInRange returns mirror rows whose start falls in [start, end).
func (r *PostgresInsperEventRepository) FindByUserInRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*domain.InsperEvent, error) {
	query := `
		SELECT ` + insperEventColumns + `
		FROM insper_events
		WHERE user_id = $1 AND start_datetime >= $2 AND start_datetime < $3
		ORDER BY start_datetime
	`
	return r.queryMany(ctx, query, userID, start, end)
}

// Delete removes a mirror row.
func (r *PostgresInsperEventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM insper_events WHERE id = $1`, id)
	return err
}

func (r *PostgresInsperEventRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.InsperEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.InsperEvent
	for rows.Next() {
		event, err := scanInsperEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresInsperEventRepository) scanOne(row pgx.Row) (*domain.InsperEvent, error) {
	event, err := scanInsperEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

func scanInsperEvent(row pgx.Row) (*domain.InsperEvent, error) {
	var (
		event        domain.InsperEvent
		raw          []byte
		lastSyncedAt sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.UserID, &event.InsperEventID, &event.InsperInternalID,
		&event.Title, &event.Description, &event.StartDatetime, &event.EndDatetime, &event.AllDay,
		&event.DisciplinaCodigo, &event.Docente, &event.Turma, &event.Dependencia, &event.TipoEvento, &event.Timezone,
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

func rawOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
