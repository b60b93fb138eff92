package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// SQLiteInsperEventRepository implements InsperEventRepository using SQLite
// (local mode).
type SQLiteInsperEventRepository struct {
	db *sql.DB
}

// NewSQLiteInsperEventRepository creates the repository.
func NewSQLiteInsperEventRepository(db *sql.DB) *SQLiteInsperEventRepository {
	return &SQLiteInsperEventRepository{db: db}
}

// Save upserts an upstream mirror row, recomputing its content hash.
func (r *SQLiteInsperEventRepository) Save(ctx context.Context, event *domain.InsperEvent) error {
	event.ContentHash = event.ComputeContentHash()

	query := `
		INSERT INTO insper_events (` + insperEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, insper_event_id) DO UPDATE SET
			insper_internal_id = excluded.insper_internal_id,
			title = excluded.title,
			description = excluded.description,
			start_datetime = excluded.start_datetime,
			end_datetime = excluded.end_datetime,
			all_day = excluded.all_day,
			disciplina_codigo = excluded.disciplina_codigo,
			docente = excluded.docente,
			turma = excluded.turma,
			dependencia = excluded.dependencia,
			tipo_evento = excluded.tipo_evento,
			timezone = excluded.timezone,
			raw_data = excluded.raw_data,
			content_hash = excluded.content_hash,
			last_synced_at = excluded.last_synced_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID.String(), event.UserID.String(), event.InsperEventID, event.InsperInternalID,
		event.Title, event.Description,
		event.StartDatetime.UTC().Format(time.RFC3339Nano), event.EndDatetime.UTC().Format(time.RFC3339Nano),
		boolInt(event.AllDay),
		event.DisciplinaCodigo, event.Docente, event.Turma, event.Dependencia, event.TipoEvento, event.Timezone,
		string(rawOrEmpty(event.RawData)), event.ContentHash, timePtrString(event.LastSyncedAt), boolInt(event.IsActive),
		event.CreatedAt.UTC().Format(time.RFC3339Nano), event.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// FindByID finds a mirror row by primary key.
func (r *SQLiteInsperEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.InsperEvent, error) {
	query := `SELECT ` + insperEventColumns + ` FROM insper_events WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()))
}

// FindByUserAndInsperID finds a mirror row by its portal identity.
func (r *SQLiteInsperEventRepository) FindByUserAndInsperID(ctx context.Context, userID uuid.UUID, insperEventID string) (*domain.InsperEvent, error) {
	query := `SELECT ` + insperEventColumns + ` FROM insper_events WHERE user_id = ? AND insper_event_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID.String(), insperEventID))
}

// FindActiveByUser returns the user's active mirror rows ordered by start.
func (r *SQLiteInsperEventRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.InsperEvent, error) {
	query := `
		SELECT ` + insperEventColumns + `
		FROM insper_events
		WHERE user_id = ? AND is_active = 1
		ORDER BY start_datetime
	`
	return r.queryMany(ctx, query, userID.String())
}

// FindByUserInRange returns mirror rows whose start falls in [start, end).
func (r *SQLiteInsperEventRepository) FindByUserInRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*domain.InsperEvent, error) {
	query := `
		SELECT ` + insperEventColumns + `
		FROM insper_events
		WHERE user_id = ? AND start_datetime >= ? AND start_datetime < ?
		ORDER BY start_datetime
	`
	return r.queryMany(ctx, query, userID.String(),
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
}

// Delete removes a mirror row.
func (r *SQLiteInsperEventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM insper_events WHERE id = ?`, id.String())
	return err
}

func (r *SQLiteInsperEventRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.InsperEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.InsperEvent
	for rows.Next() {
		event, err := scanSQLiteInsperEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SQLiteInsperEventRepository) scanOne(row *sql.Row) (*domain.InsperEvent, error) {
	event, err := scanSQLiteInsperEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInsperEvent(row sqliteScanner) (*domain.InsperEvent, error) {
	var (
		idStr, userIDStr       string
		insperEventID          string
		insperInternalID       string
		title, description     string
		startStr, endStr       string
		allDay                 int
		disciplina, docente    string
		turma, dependencia     string
		tipoEvento, timezone   string
		raw, contentHash       string
		lastSyncedAt           sql.NullString
		isActive               int
		createdAtStr, updAtStr string
	)

	err := row.Scan(
		&idStr, &userIDStr, &insperEventID, &insperInternalID,
		&title, &description, &startStr, &endStr, &allDay,
		&disciplina, &docente, &turma, &dependencia, &tipoEvento, &timezone,
		&raw, &contentHash, &lastSyncedAt, &isActive,
		&createdAtStr, &updAtStr,
	)
	if err != nil {
		return nil, err
	}

	event := &domain.InsperEvent{
		InsperEventID:    insperEventID,
		InsperInternalID: insperInternalID,
		Title:            title,
		Description:      description,
		AllDay:           allDay != 0,
		DisciplinaCodigo: disciplina,
		Docente:          docente,
		Turma:            turma,
		Dependencia:      dependencia,
		TipoEvento:       tipoEvento,
		Timezone:         timezone,
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

func nullStringTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
