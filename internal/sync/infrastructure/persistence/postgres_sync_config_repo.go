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

const syncConfigColumns = `id, user_id, sync_enabled, sync_frequency_hours,
	sync_all_events, excluded_event_types, excluded_disciplines,
	google_calendar_name, add_insper_prefix, include_teacher_in_description,
	include_discipline_code, last_sync_attempt, created_at, updated_at`

// PostgresSyncConfigRepository implements SyncConfigurationRepository using
// PostgreSQL. The exclusion lists map to TEXT[] columns.
type PostgresSyncConfigRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSyncConfigRepository creates the repository.
func NewPostgresSyncConfigRepository(pool *pgxpool.Pool) *PostgresSyncConfigRepository {
	return &PostgresSyncConfigRepository{pool: pool}
}

// Save upserts a configuration, keyed by user.
func (r *PostgresSyncConfigRepository) Save(ctx context.Context, config *domain.SyncConfiguration) error {
	query := `
		INSERT INTO sync_configurations (` + syncConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id) DO UPDATE SET
			sync_enabled = EXCLUDED.sync_enabled,
			sync_frequency_hours = EXCLUDED.sync_frequency_hours,
			sync_all_events = EXCLUDED.sync_all_events,
			excluded_event_types = EXCLUDED.excluded_event_types,
			excluded_disciplines = EXCLUDED.excluded_disciplines,
			google_calendar_name = EXCLUDED.google_calendar_name,
			add_insper_prefix = EXCLUDED.add_insper_prefix,
			include_teacher_in_description = EXCLUDED.include_teacher_in_description,
			include_discipline_code = EXCLUDED.include_discipline_code,
			last_sync_attempt = EXCLUDED.last_sync_attempt,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		config.ID(), config.UserID(), config.SyncEnabled(), config.SyncFrequencyHours(),
		config.SyncAllEvents(), sliceOrEmpty(config.ExcludedEventTypes()), sliceOrEmpty(config.ExcludedDisciplines()),
		config.GoogleCalendarName(), config.AddInsperPrefix(), config.IncludeTeacherInDescription(),
		config.IncludeDisciplineCode(), config.LastSyncAttempt(), config.CreatedAt(), config.UpdatedAt(),
	)
	return err
}

// FindByUserID loads the user's configuration.
func (r *PostgresSyncConfigRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.SyncConfiguration, error) {
	query := `SELECT ` + syncConfigColumns + ` FROM sync_configurations WHERE user_id = $1`
	config, err := scanSyncConfig(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return config, nil
}

// Delete removes a configuration.
func (r *PostgresSyncConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sync_configurations WHERE id = $1`, id)
	return err
}

func scanSyncConfig(row pgx.Row) (*domain.SyncConfiguration, error) {
	var (
		id, userID           uuid.UUID
		syncEnabled          bool
		frequencyHours       int
		syncAllEvents        bool
		excludedTypes        []string
		excludedDisciplines  []string
		calendarName         string
		addPrefix            bool
		includeTeacher       bool
		includeDiscipline    bool
		lastSyncAttempt      sql.NullTime
		createdAt, updatedAt time.Time
	)

	err := row.Scan(
		&id, &userID, &syncEnabled, &frequencyHours,
		&syncAllEvents, &excludedTypes, &excludedDisciplines,
		&calendarName, &addPrefix, &includeTeacher,
		&includeDiscipline, &lastSyncAttempt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateSyncConfiguration(
		id, userID, syncEnabled, frequencyHours,
		syncAllEvents, excludedTypes, excludedDisciplines,
		calendarName, addPrefix, includeTeacher, includeDiscipline,
		nullTimePtr(lastSyncAttempt), createdAt, updatedAt,
	), nil
}

func sliceOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
