// Package persistence provides the Postgres and SQLite user repositories.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, email_verified, is_active,
	portal_username, portal_password_ciphertext, portal_person_id,
	matricula, turma, curso,
	google_access_token, google_refresh_token, google_token_expiry,
	google_calendar_id, google_connected, last_sync_at,
	created_at, updated_at`

// PostgresUserRepository implements UserRepository using PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgreSQL user repository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Save persists a user (create or update).
func (r *PostgresUserRepository) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			email_verified = EXCLUDED.email_verified,
			is_active = EXCLUDED.is_active,
			portal_username = EXCLUDED.portal_username,
			portal_password_ciphertext = EXCLUDED.portal_password_ciphertext,
			portal_person_id = EXCLUDED.portal_person_id,
			matricula = EXCLUDED.matricula,
			turma = EXCLUDED.turma,
			curso = EXCLUDED.curso,
			google_access_token = EXCLUDED.google_access_token,
			google_refresh_token = EXCLUDED.google_refresh_token,
			google_token_expiry = EXCLUDED.google_token_expiry,
			google_calendar_id = EXCLUDED.google_calendar_id,
			google_connected = EXCLUDED.google_connected,
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID(),
		user.Email(),
		user.Name(),
		user.EmailVerified(),
		user.Active(),
		user.PortalUsername(),
		user.PortalPasswordCiphertext(),
		user.PortalPersonID(),
		user.Matricula(),
		user.Turma(),
		user.Curso(),
		user.GoogleAccessToken(),
		user.GoogleRefreshToken(),
		user.GoogleTokenExpiry(),
		user.GoogleCalendarID(),
		user.GoogleConnected(),
		user.LastSyncAt(),
		user.CreatedAt(),
		user.UpdatedAt(),
	)
	return err
}

// FindByID finds a user by ID.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// FindByEmail finds a user by email.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// FindAll returns every user ordered by email.
func (r *PostgresUserRepository) FindAll(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY email`
	return r.queryUsers(ctx, query)
}

// FindAllSyncable returns users carrying all four capability flags.
func (r *PostgresUserRepository) FindAllSyncable(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email_verified = TRUE
		  AND is_active = TRUE
		  AND portal_password_ciphertext <> ''
		  AND google_connected = TRUE
		  AND google_refresh_token IS NOT NULL
		ORDER BY email
	`
	return r.queryUsers(ctx, query)
}

// Delete removes a user.
func (r *PostgresUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *PostgresUserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUserFields(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *PostgresUserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	user, err := scanUserFields(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func scanUserFields(row pgx.Row) (*domain.User, error) {
	var (
		id                 uuid.UUID
		email              string
		name               string
		emailVerified      bool
		active             bool
		portalUsername     string
		portalCiphertext   string
		portalPersonID     string
		matricula          string
		turma              string
		curso              string
		googleAccessToken  []byte
		googleRefreshToken []byte
		googleTokenExpiry  sql.NullTime
		googleCalendarID   string
		googleConnected    bool
		lastSyncAt         sql.NullTime
		createdAt          time.Time
		updatedAt          time.Time
	)

	err := row.Scan(
		&id, &email, &name, &emailVerified, &active,
		&portalUsername, &portalCiphertext, &portalPersonID,
		&matricula, &turma, &curso,
		&googleAccessToken, &googleRefreshToken, &googleTokenExpiry,
		&googleCalendarID, &googleConnected, &lastSyncAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateUser(
		id, email, name, emailVerified, active,
		portalUsername, portalCiphertext, portalPersonID,
		matricula, turma, curso,
		googleAccessToken, googleRefreshToken, nullTimePtr(googleTokenExpiry),
		googleCalendarID, googleConnected, nullTimePtr(lastSyncAt),
		createdAt, updatedAt,
	), nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
