package portal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Gateway bundles the portal building blocks behind per-call sessions: one
// login handshake, one profile fetch, one scrape per invocation. Sessions
// are not reused across calls because the portal's cookies are short-lived.
type Gateway struct {
	cfg       Config
	keys      *KeyCache
	encryptor *Encryptor
	logger    *slog.Logger
}

// NewGateway creates a portal gateway.
func NewGateway(cfg Config, keys *KeyCache) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	return &Gateway{
		cfg:       cfg,
		keys:      keys,
		encryptor: NewEncryptor(keys),
		logger:    logger,
	}
}

// Encryptor returns the password encryptor bound to this gateway's key cache.
func (g *Gateway) Encryptor() *Encryptor {
	return g.encryptor
}

// NewSession opens a fresh unauthenticated session.
func (g *Gateway) NewSession() (*Session, error) {
	return NewSession(g.cfg, g.encryptor)
}

// TestConnection reports whether the portal is reachable.
func (g *Gateway) TestConnection(ctx context.Context) bool {
	session, err := g.NewSession()
	if err != nil {
		return false
	}
	return session.TestConnection(ctx)
}

// ValidateCredentials runs the interactive setup flow: encrypt the
// plaintext, log in with the resulting ciphertext, and return the identity
// plus the ciphertext for storage.
func (g *Gateway) ValidateCredentials(ctx context.Context, username, plaintext string) (*Identity, string, error) {
	session, err := g.NewSession()
	if err != nil {
		return nil, "", err
	}
	return session.ValidateCredentials(ctx, username, plaintext)
}

// LoginStored logs in with a stored password ciphertext and returns the
// authenticated session and identity.
func (g *Gateway) LoginStored(ctx context.Context, username, ciphertext string) (*Session, *Identity, error) {
	session, err := g.NewSession()
	if err != nil {
		return nil, nil, err
	}
	identity, err := session.Login(ctx, username, ciphertext, false)
	if err != nil {
		return nil, nil, err
	}
	if identity == nil {
		return nil, nil, fmt.Errorf("login: identity cookie unreadable: %w", ErrAuth)
	}
	return session, identity, nil
}

// FetchProfile logs in with stored credentials and fetches the academic
// profile for the cookie-carried identity.
func (g *Gateway) FetchProfile(ctx context.Context, username, ciphertext string) (*AcademicProfile, error) {
	session, identity, err := g.LoginStored(ctx, username, ciphertext)
	if err != nil {
		return nil, err
	}
	profile, err := session.AcademicProfile(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("academic profile missing: %w", ErrAuth)
	}
	return profile, nil
}

// FetchEvents performs the full upstream read for a sync run: login with
// stored credentials, resolve the academic profile, scrape the range.
func (g *Gateway) FetchEvents(ctx context.Context, username, ciphertext string, start, end time.Time) ([]Event, []Window, error) {
	session, identity, err := g.LoginStored(ctx, username, ciphertext)
	if err != nil {
		return nil, nil, err
	}

	profile, err := session.AcademicProfile(ctx, identity.ID)
	if err != nil {
		return nil, nil, err
	}
	if profile == nil {
		return nil, nil, fmt.Errorf("academic profile missing: %w", ErrAuth)
	}

	schedule := NewScheduleClient(session, profile, g.logger)
	return schedule.EventsForRange(ctx, start, end)
}

// FetchWeek returns the live week view starting at the given day.
func (g *Gateway) FetchWeek(ctx context.Context, username, ciphertext string, from time.Time) ([]Event, error) {
	session, identity, err := g.LoginStored(ctx, username, ciphertext)
	if err != nil {
		return nil, err
	}
	profile, err := session.AcademicProfile(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("academic profile missing: %w", ErrAuth)
	}
	events, _, err := NewScheduleClient(session, profile, g.logger).WeekSchedule(ctx, from)
	return events, err
}
