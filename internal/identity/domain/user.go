// Package domain holds the user aggregate and its repository contract.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/inspersync/inspersync/internal/shared/domain"
)

// Capabilities are the four flags that gate whether a user's sync may run.
type Capabilities struct {
	EmailVerified         bool
	CredentialsConfigured bool
	GoogleConnected       bool
	Active                bool
}

// Complete reports whether every capability is present.
func (c Capabilities) Complete() bool {
	return c.EmailVerified && c.CredentialsConfigured && c.GoogleConnected && c.Active
}

// Missing names the absent capabilities for skip messages.
func (c Capabilities) Missing() []string {
	var missing []string
	if !c.EmailVerified {
		missing = append(missing, "email not verified")
	}
	if !c.CredentialsConfigured {
		missing = append(missing, "portal credentials not configured")
	}
	if !c.GoogleConnected {
		missing = append(missing, "google calendar not connected")
	}
	if !c.Active {
		missing = append(missing, "account inactive")
	}
	return missing
}

// User is the aggregate root for a sync account: portal credentials, the
// academic snapshot, and the Google Calendar connection.
type User struct {
	sharedDomain.BaseEntity
	email         string
	name          string
	emailVerified bool
	active        bool

	// Portal credentials. The password is stored as the RSA ciphertext
	// the portal accepts; plaintext never reaches the aggregate.
	portalUsername           string
	portalPasswordCiphertext string
	portalPersonID           string

	// Academic snapshot refreshed from the portal profile.
	matricula string
	turma     string
	curso     string

	// Google Calendar connection. Tokens are AES-GCM ciphertext.
	googleAccessToken  []byte
	googleRefreshToken []byte
	googleTokenExpiry  *time.Time
	googleCalendarID   string
	googleConnected    bool

	lastSyncAt *time.Time
}

// NewUser creates a user account.
func NewUser(email, name string) *User {
	return &User{
		BaseEntity: sharedDomain.NewBaseEntity(),
		email:      strings.ToLower(strings.TrimSpace(email)),
		name:       strings.TrimSpace(name),
		active:     true,
	}
}

func (u *User) Email() string                   { return u.email }
func (u *User) Name() string                    { return u.name }
func (u *User) EmailVerified() bool             { return u.emailVerified }
func (u *User) Active() bool                    { return u.active }
func (u *User) PortalUsername() string          { return u.portalUsername }
func (u *User) PortalPasswordCiphertext() string { return u.portalPasswordCiphertext }
func (u *User) PortalPersonID() string          { return u.portalPersonID }
func (u *User) Matricula() string               { return u.matricula }
func (u *User) Turma() string                   { return u.turma }
func (u *User) Curso() string                   { return u.curso }
func (u *User) GoogleAccessToken() []byte       { return u.googleAccessToken }
func (u *User) GoogleRefreshToken() []byte      { return u.googleRefreshToken }
func (u *User) GoogleTokenExpiry() *time.Time   { return u.googleTokenExpiry }
func (u *User) GoogleCalendarID() string        { return u.googleCalendarID }
func (u *User) GoogleConnected() bool           { return u.googleConnected }
func (u *User) LastSyncAt() *time.Time          { return u.lastSyncAt }

// Capabilities derives the sync-gating flags from the aggregate state.
func (u *User) Capabilities() Capabilities {
	return Capabilities{
		EmailVerified:         u.emailVerified,
		CredentialsConfigured: u.portalUsername != "" && u.portalPasswordCiphertext != "",
		GoogleConnected:       u.googleConnected && len(u.googleRefreshToken) > 0,
		Active:                u.active,
	}
}

// CanSync reports whether all four capability flags are present.
func (u *User) CanSync() bool {
	return u.Capabilities().Complete()
}

// VerifyEmail marks the email address as verified.
func (u *User) VerifyEmail() {
	u.emailVerified = true
	u.Touch()
}

// Deactivate disables the account.
func (u *User) Deactivate() {
	u.active = false
	u.Touch()
}

// SetPortalCredentials stores validated portal credentials.
func (u *User) SetPortalCredentials(username, ciphertext, personID string) {
	u.portalUsername = username
	u.portalPasswordCiphertext = ciphertext
	u.portalPersonID = personID
	u.Touch()
}

// ClearPortalCredentials removes the stored portal credentials.
func (u *User) ClearPortalCredentials() {
	u.portalUsername = ""
	u.portalPasswordCiphertext = ""
	u.portalPersonID = ""
	u.Touch()
}

// UpdateAcademicSnapshot refreshes the cached profile fields.
func (u *User) UpdateAcademicSnapshot(name, matricula, turma, curso string) {
	if name != "" {
		u.name = name
	}
	u.matricula = matricula
	u.turma = turma
	u.curso = curso
	u.Touch()
}

// ConnectGoogle stores a freshly exchanged token pair.
func (u *User) ConnectGoogle(accessToken, refreshToken []byte, expiry time.Time) {
	u.googleAccessToken = accessToken
	if len(refreshToken) > 0 {
		u.googleRefreshToken = refreshToken
	}
	u.googleTokenExpiry = &expiry
	u.googleConnected = true
	u.Touch()
}

// UpdateGoogleTokens stores a refreshed access token. An empty refresh token
// keeps the previous one: Google only reissues it on consent.
func (u *User) UpdateGoogleTokens(accessToken, refreshToken []byte, expiry time.Time) {
	u.googleAccessToken = accessToken
	if len(refreshToken) > 0 {
		u.googleRefreshToken = refreshToken
	}
	u.googleTokenExpiry = &expiry
	u.Touch()
}

// DisconnectGoogle drops the Google connection and its tokens.
func (u *User) DisconnectGoogle() {
	u.googleAccessToken = nil
	u.googleRefreshToken = nil
	u.googleTokenExpiry = nil
	u.googleCalendarID = ""
	u.googleConnected = false
	u.Touch()
}

// SetGoogleCalendarID records the downstream calendar the sync writes to.
func (u *User) SetGoogleCalendarID(calendarID string) {
	u.googleCalendarID = calendarID
	u.Touch()
}

// RecordSync stamps the last successful sync instant.
func (u *User) RecordSync(at time.Time) {
	t := at.UTC()
	u.lastSyncAt = &t
	u.Touch()
}

// RehydrateUser recreates a user from persisted state.
func RehydrateUser(
	id uuid.UUID,
	email, name string,
	emailVerified, active bool,
	portalUsername, portalPasswordCiphertext, portalPersonID string,
	matricula, turma, curso string,
	googleAccessToken, googleRefreshToken []byte,
	googleTokenExpiry *time.Time,
	googleCalendarID string,
	googleConnected bool,
	lastSyncAt *time.Time,
	createdAt, updatedAt time.Time,
) *User {
	return &User{
		BaseEntity:               sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		email:                    email,
		name:                     name,
		emailVerified:            emailVerified,
		active:                   active,
		portalUsername:           portalUsername,
		portalPasswordCiphertext: portalPasswordCiphertext,
		portalPersonID:           portalPersonID,
		matricula:                matricula,
		turma:                    turma,
		curso:                    curso,
		googleAccessToken:        googleAccessToken,
		googleRefreshToken:       googleRefreshToken,
		googleTokenExpiry:        googleTokenExpiry,
		googleCalendarID:         googleCalendarID,
		googleConnected:          googleConnected,
		lastSyncAt:               lastSyncAt,
	}
}

// UserRepository defines persistence for users.
type UserRepository interface {
	// Save persists a user (create or update).
	Save(ctx context.Context, user *User) error

	// FindByID finds a user by ID. Returns (nil, nil) when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindByEmail finds a user by email. Returns (nil, nil) when absent.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindAll returns every user.
	FindAll(ctx context.Context) ([]*User, error)

	// FindAllSyncable returns users carrying all four capability flags.
	FindAllSyncable(ctx context.Context) ([]*User, error)

	// Delete removes a user.
	Delete(ctx context.Context, id uuid.UUID) error
}
