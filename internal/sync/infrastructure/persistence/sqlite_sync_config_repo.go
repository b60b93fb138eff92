package persistence

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/sync/domain"
)

// SQLiteSyncConfigRepository implements SyncConfigurationRepository using
// SQLite (local mode). Exclusion lists are stored as JSON arrays in TEXT
// columns.
type SQLiteSyncConfigRepository struct {
	db *sql.DB
}

// NewSQLiteSyncConfigRepository creates the repository.
func NewSQLiteSyncConfigRepository(db *sql.DB) *SQLiteSyncConfigRepository {
	return &SQLiteSyncConfigRepository{db: db}
}

// Save upserts a configuration, keyed by user.
func (r *SQLiteSyncConfigRepository) Save(ctx context.Context, config *domain.SyncConfiguration) error {
	excludedTypes, err := json.Marshal(sliceOrEmpty(config.ExcludedEventTypes()))
	if err != nil {
		return err
	}
	excludedDisciplines, err := json.Marshal(sliceOrEmpty(config.ExcludedDisciplines()))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_configurations (` + syncConfigColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			sync_enabled = excluded.sync_enabled,
			sync_frequency_hours = excluded.sync_frequency_hours,
			sync_all_events = excluded.sync_all_events,
			excluded_event_types = excluded.excluded_event_types,
			excluded_disciplines = excluded.excluded_disciplines,
			google_calendar_name = excluded.google_calendar_name,
			add_insper_prefix = excluded.add_insper_prefix,
			include_teacher_in_description = excluded.include_teacher_in_description,
			include_discipline_code = excluded.include_discipline_code,
			last_sync_attempt = excluded.last_sync_attempt,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		config.ID().String(), config.UserID().String(), boolInt(config.SyncEnabled()), config.SyncFrequencyHours(),
		boolInt(config.SyncAllEvents()), string(excludedTypes), string(excludedDisciplines),
		config.GoogleCalendarName(), boolInt(config.AddInsperPrefix()), boolInt(config.IncludeTeacherInDescription()),
		boolInt(config.IncludeDisciplineCode()), timePtrString(config.LastSyncAttempt()),
		timeString(config.CreatedAt()), timeString(config.UpdatedAt()),
	)
	return err
}

// FindByUserID loads the user's configuration.
func (r *SQLiteSyncConfigRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.SyncConfiguration, error) {
	query := `SELECT ` + syncConfigColumns + ` FROM sync_configurations WHERE user_id = ?`
	config, err := scanSQLiteSyncConfig(r.db.QueryRowContext(ctx, query, userID.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return config, nil
}

// Delete removes a configuration.
func (r *SQLiteSyncConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_configurations WHERE id = ?`, id.String())
	return err
}

func scanSQLiteSyncConfig(row sqliteScanner) (*domain.SyncConfiguration, error) {
	var (
		idStr, userIDStr       string
		syncEnabled            int
		frequencyHours         int
		syncAllEvents          int
		excludedTypesRaw       string
		excludedDisciplinesRaw string
		calendarName           string
		addPrefix              int
		includeTeacher         int
		includeDiscipline      int
		lastSyncAttempt        sql.NullString
		createdAtStr, updAtStr string
	)

	err := row.Scan(
		&idStr, &userIDStr, &syncEnabled, &frequencyHours,
		&syncAllEvents, &excludedTypesRaw, &excludedDisciplinesRaw,
		&calendarName, &addPrefix, &includeTeacher,
		&includeDiscipline, &lastSyncAttempt, &createdAtStr, &updAtStr,
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
	var excludedTypes, excludedDisciplines []string
	if excludedTypesRaw != "" {
		if err := json.Unmarshal([]byte(excludedTypesRaw), &excludedTypes); err != nil {
			return nil, err
		}
	}
	if excludedDisciplinesRaw != "" {
		if err := json.Unmarshal([]byte(excludedDisciplinesRaw), &excludedDisciplines); err != nil {
			return nil, err
		}
	}
	attemptedAt, err := nullStringTimePtr(lastSyncAttempt)
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

	return domain.RehydrateSyncConfiguration(
		id, userID, syncEnabled != 0, frequencyHours,
		syncAllEvents != 0, excludedTypes, excludedDisciplines,
		calendarName, addPrefix != 0, includeTeacher != 0, includeDiscipline != 0,
		attemptedAt, createdAt, updatedAt,
	), nil
}
