package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/migrations"
	"github.com/inspersync/inspersync/internal/sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	// One connection, or every pooled conn would see its own memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	return db
}

// insertUser satisfies the foreign keys on the sync tables.
func insertUser(t *testing.T, db *sql.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.Exec(
		`INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id.String(), fmt.Sprintf("%s@al.insper.edu.br", id.String()[:8]), "Test User", now, now,
	)
	require.NoError(t, err)
	return id
}

func sampleInsperEvent(userID uuid.UUID) *domain.InsperEvent {
	event := domain.NewInsperEvent(userID, "abc123")
	event.InsperInternalID = "42"
	event.Title = "Microeconomia I\nECON101"
	event.Description = "Aula expositiva"
	event.StartDatetime = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)
	event.EndDatetime = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	event.DisciplinaCodigo = "ECON101"
	event.Docente = "Prof. Souza"
	event.Turma = "A"
	event.Dependencia = "Sala 304"
	event.TipoEvento = "AULA"
	event.RawData = []byte(`{"titulo":"Microeconomia I"}`)
	return event
}

func TestSQLiteInsperEventRepoRoundTrip(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteInsperEventRepository(db)
	ctx := context.Background()

	event := sampleInsperEvent(userID)
	require.NoError(t, repo.Save(ctx, event))
	assert.Len(t, event.ContentHash, 32)

	found, err := repo.FindByUserAndInsperID(ctx, userID, "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, event.ID, found.ID)
	assert.Equal(t, "Microeconomia I\nECON101", found.Title)
	assert.Equal(t, "Prof. Souza", found.Docente)
	assert.Equal(t, "Sala 304", found.Dependencia)
	assert.Equal(t, event.ContentHash, found.ContentHash)
	assert.True(t, found.StartDatetime.Equal(event.StartDatetime))
	assert.True(t, found.IsActive)
	assert.Nil(t, found.LastSyncedAt)
	assert.JSONEq(t, `{"titulo":"Microeconomia I"}`, string(found.RawData))
}

func TestSQLiteInsperEventRepoUpsertRecomputesHash(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteInsperEventRepository(db)
	ctx := context.Background()

	event := sampleInsperEvent(userID)
	require.NoError(t, repo.Save(ctx, event))
	originalHash := event.ContentHash

	event.Title = "Microeconomia II"
	require.NoError(t, repo.Save(ctx, event))
	assert.NotEqual(t, originalHash, event.ContentHash)

	found, err := repo.FindByUserAndInsperID(ctx, userID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Microeconomia II", found.Title)
	assert.Equal(t, event.ContentHash, found.ContentHash)

	active, err := repo.FindActiveByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQLiteInsperEventRepoFindInRange(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteInsperEventRepository(db)
	ctx := context.Background()

	march := sampleInsperEvent(userID)
	require.NoError(t, repo.Save(ctx, march))

	april := domain.NewInsperEvent(userID, "def456")
	april.Title = "Prova"
	april.StartDatetime = time.Date(2024, 4, 10, 13, 0, 0, 0, time.UTC)
	april.EndDatetime = time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, april))

	inMarch, err := repo.FindByUserInRange(ctx, userID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, inMarch, 1)
	assert.Equal(t, "abc123", inMarch[0].InsperEventID)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteGoogleEventRepoRoundTrip(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteGoogleEventRepository(db)
	ctx := context.Background()

	event := domain.NewGoogleEvent(userID, "g-1", "cal-1")
	event.Title = "[Insper] Microeconomia I"
	event.Description = "Aula expositiva"
	event.StartDatetime = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)
	event.EndDatetime = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	event.Location = "Sala 304"
	event.HTMLLink = "https://calendar.google.com/event?eid=1"
	require.NoError(t, repo.Save(ctx, event))

	found, err := repo.FindByUserAndGoogleID(ctx, userID, "g-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "cal-1", found.GoogleCalendarID)
	assert.Equal(t, "Sala 304", found.Location)
	assert.True(t, found.SyncedFromInsper)
	assert.Equal(t, event.ContentHash, found.ContentHash)

	found.IsActive = false
	require.NoError(t, repo.Save(ctx, found))

	active, err := repo.FindActiveByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSQLiteActiveUserIndexOnBothMirrorTables(t *testing.T) {
	db := testDB(t)

	for _, name := range []string{"idx_insper_events_active_user", "idx_google_events_active_user"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "missing index %s", name)
	}
}

func TestSQLiteEventMappingRepoRoundTrip(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	ctx := context.Background()

	insperEvent := sampleInsperEvent(userID)
	require.NoError(t, NewSQLiteInsperEventRepository(db).Save(ctx, insperEvent))

	googleEvent := domain.NewGoogleEvent(userID, "g-1", "cal-1")
	googleEvent.StartDatetime = insperEvent.StartDatetime
	googleEvent.EndDatetime = insperEvent.EndDatetime
	require.NoError(t, NewSQLiteGoogleEventRepository(db).Save(ctx, googleEvent))

	session := domain.NewSyncSession(userID, insperEvent.StartDatetime, insperEvent.EndDatetime)
	require.NoError(t, NewSQLiteSyncSessionRepository(db).Save(ctx, session))

	repo := NewSQLiteEventMappingRepository(db)
	mapping := domain.NewEventMapping(insperEvent.ID, googleEvent.ID, nil)
	sessionID := session.ID()
	mapping.MarkSynced(time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC), &sessionID)
	require.NoError(t, repo.Save(ctx, mapping))

	found, err := repo.FindByInsperEventID(ctx, insperEvent.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.MappingStatusSynced, found.Status())
	require.NotNil(t, found.SyncSessionID())
	assert.Equal(t, sessionID, *found.SyncSessionID())

	byUser, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	mapping.FlagForReview("duplicate candidate")
	require.NoError(t, repo.Save(ctx, mapping))

	review, err := repo.FindNeedingReview(ctx, userID)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "duplicate candidate", review[0].ReviewNotes())
}

func TestSQLiteSyncSessionRepoLifecycle(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteSyncSessionRepository(db)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	session := domain.NewSyncSession(userID, start, end)
	require.NoError(t, repo.Save(ctx, session))

	running, err := repo.FindRunningSince(ctx, userID, session.StartedAt().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, running, 1)

	session.RecordDiscovery(5, 3)
	session.RecordCreated()
	session.RecordFailed()
	session.MarkCompleted()
	require.NoError(t, repo.Save(ctx, session))

	found, err := repo.FindByID(ctx, session.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.SessionStatusCompleted, found.Status())
	assert.Equal(t, 5, found.InsperEventsFound())
	assert.Equal(t, 1, found.EventsCreated())
	assert.Equal(t, 1, found.EventsFailed())
	require.NotNil(t, found.SyncStartDate())
	assert.True(t, found.SyncStartDate().Equal(start))
	require.NotNil(t, found.CompletedAt())

	running, err = repo.FindRunningSince(ctx, userID, session.StartedAt().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSQLiteSyncSessionRepoFailureDetails(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteSyncSessionRepository(db)
	ctx := context.Background()

	session := domain.NewSyncSession(userID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	session.MarkFailed("portal scrape: connection refused", map[string]any{"error": "connection refused"})
	require.NoError(t, repo.Save(ctx, session))

	found, err := repo.FindByID(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, found.Status())
	assert.Equal(t, "portal scrape: connection refused", found.ErrorMessage())
	assert.Equal(t, "connection refused", found.ErrorDetails()["error"])
}

func TestSQLiteSessionCleanupCascadesToMappings(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	ctx := context.Background()

	insperEvent := sampleInsperEvent(userID)
	require.NoError(t, NewSQLiteInsperEventRepository(db).Save(ctx, insperEvent))

	googleEvent := domain.NewGoogleEvent(userID, "g-1", "cal-1")
	googleEvent.StartDatetime = insperEvent.StartDatetime
	googleEvent.EndDatetime = insperEvent.EndDatetime
	require.NoError(t, NewSQLiteGoogleEventRepository(db).Save(ctx, googleEvent))

	now := time.Now().UTC()
	sessionRepo := NewSQLiteSyncSessionRepository(db)
	old := domain.RehydrateSyncSession(
		uuid.New(), userID, domain.SessionStatusCompleted,
		now.AddDate(0, 0, -45), nil, nil, nil,
		0, 0, 0, 0, 0, 0, "", nil,
		now.AddDate(0, 0, -45), now.AddDate(0, 0, -45),
	)
	require.NoError(t, sessionRepo.Save(ctx, old))

	mappingRepo := NewSQLiteEventMappingRepository(db)
	mapping := domain.NewEventMapping(insperEvent.ID, googleEvent.ID, nil)
	sessionID := old.ID()
	mapping.MarkSynced(now.AddDate(0, 0, -45), &sessionID)
	require.NoError(t, mappingRepo.Save(ctx, mapping))

	deleted, err := sessionRepo.DeleteOlderThan(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The session owns its mappings: reaping it reaps them too.
	byUser, err := mappingRepo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, byUser)
}

func TestSQLiteSyncSessionRepoListAndCleanup(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteSyncSessionRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	old := domain.RehydrateSyncSession(
		uuid.New(), userID, domain.SessionStatusCompleted,
		now.AddDate(0, 0, -45), nil, nil, nil,
		0, 0, 0, 0, 0, 0, "", nil,
		now.AddDate(0, 0, -45), now.AddDate(0, 0, -45),
	)
	require.NoError(t, repo.Save(ctx, old))

	recent := domain.NewSyncSession(userID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	recent.MarkCompleted()
	require.NoError(t, repo.Save(ctx, recent))

	sessions, err := repo.ListRecent(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, recent.ID(), sessions[0].ID())

	deleted, err := repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	sessions, err = repo.ListRecent(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSQLiteSyncConfigRepoRoundTrip(t *testing.T) {
	db := testDB(t)
	userID := insertUser(t, db)
	repo := NewSQLiteSyncConfigRepository(db)
	ctx := context.Background()

	config := domain.NewSyncConfiguration(userID)
	config.ExcludeEventType("MONITORIA")
	config.ExcludeDiscipline("ECON999")
	config.SetFrequencyHours(12)
	config.SetFormatting(false, true, false)
	config.RecordSyncAttempt(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, config))

	found, err := repo.FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, []string{"MONITORIA"}, found.ExcludedEventTypes())
	assert.Equal(t, []string{"ECON999"}, found.ExcludedDisciplines())
	assert.Equal(t, 12, found.SyncFrequencyHours())
	assert.False(t, found.SyncAllEvents())
	assert.False(t, found.AddInsperPrefix())
	assert.True(t, found.IncludeTeacherInDescription())
	assert.False(t, found.IncludeDisciplineCode())
	require.NotNil(t, found.LastSyncAttempt())

	found.ClearExclusions()
	require.NoError(t, repo.Save(ctx, found))

	again, err := repo.FindByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, again.ExcludedEventTypes())
	assert.True(t, again.SyncAllEvents())

	missing, err := repo.FindByUserID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
