package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/identity/domain"
)

// SQLiteUserRepository implements UserRepository using SQLite (local mode).
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLite user repository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Save persists a user (create or update).
func (r *SQLiteUserRepository) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			email_verified = excluded.email_verified,
			is_active = excluded.is_active,
			portal_username = excluded.portal_username,
			portal_password_ciphertext = excluded.portal_password_ciphertext,
			portal_person_id = excluded.portal_person_id,
			matricula = excluded.matricula,
			turma = excluded.turma,
			curso = excluded.curso,
			google_access_token = excluded.google_access_token,
			google_refresh_token = excluded.google_refresh_token,
			google_token_expiry = excluded.google_token_expiry,
			google_calendar_id = excluded.google_calendar_id,
			google_connected = excluded.google_connected,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID().String(),
		user.Email(),
		user.Name(),
		boolInt(user.EmailVerified()),
		boolInt(user.Active()),
		user.PortalUsername(),
		user.PortalPasswordCiphertext(),
		user.PortalPersonID(),
		user.Matricula(),
		user.Turma(),
		user.Curso(),
		user.GoogleAccessToken(),
		user.GoogleRefreshToken(),
		timePtrString(user.GoogleTokenExpiry()),
		user.GoogleCalendarID(),
		boolInt(user.GoogleConnected()),
		timePtrString(user.LastSyncAt()),
		user.CreatedAt().Format(time.RFC3339Nano),
		user.UpdatedAt().Format(time.RFC3339Nano),
	)
	return err
}

// FindByID finds a user by ID.
func (r *SQLiteUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id.String()))
}

// FindByEmail finds a user by email.
func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// FindAll returns every user ordered by email.
func (r *SQLiteUserRepository) FindAll(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY email`
	return r.queryUsers(ctx, query)
}

// FindAllSyncable returns users carrying all four capability flags.
func (r *SQLiteUserRepository) FindAllSyncable(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email_verified = 1
		  AND is_active = 1
		  AND portal_password_ciphertext <> ''
		  AND google_connected = 1
		  AND google_refresh_token IS NOT NULL
		ORDER BY email
	`
	return r.queryUsers(ctx, query)
}

// Delete removes a user.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	return err
}

func (r *SQLiteUserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *SQLiteUserRepository) scanUser(row *sql.Row) (*domain.User, error) {
	user, err := scanSQLiteUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row sqliteScanner) (*domain.User, error) {
	var (
		idStr              string
		email              string
		name               string
		emailVerified      int
		active             int
		portalUsername     string
		portalCiphertext   string
		portalPersonID     string
		matricula          string
		turma              string
		curso              string
		googleAccessToken  []byte
		googleRefreshToken []byte
		googleTokenExpiry  sql.NullString
		googleCalendarID   string
		googleConnected    int
		lastSyncAt         sql.NullString
		createdAtStr       string
		updatedAtStr       string
	)

	err := row.Scan(
		&idStr, &email, &name, &emailVerified, &active,
		&portalUsername, &portalCiphertext, &portalPersonID,
		&matricula, &turma, &curso,
		&googleAccessToken, &googleRefreshToken, &googleTokenExpiry,
		&googleCalendarID, &googleConnected, &lastSyncAt,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseSQLiteTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseSQLiteTime(updatedAtStr)
	if err != nil {
		return nil, err
	}
	tokenExpiry, err := nullStringTimePtr(googleTokenExpiry)
	if err != nil {
		return nil, err
	}
	lastSync, err := nullStringTimePtr(lastSyncAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateUser(
		id, email, name, emailVerified != 0, active != 0,
		portalUsername, portalCiphertext, portalPersonID,
		matricula, turma, curso,
		googleAccessToken, googleRefreshToken, tokenExpiry,
		googleCalendarID, googleConnected != 0, lastSync,
		createdAt, updatedAt,
	), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
