// Package oauth manages the Google OAuth2 lifecycle: consent URL, code
// exchange, token storage at rest, and refresh-on-expiry.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/identity/domain"
	sharedCrypto "github.com/inspersync/inspersync/internal/shared/infrastructure/crypto"
	"golang.org/x/oauth2"
)

var (
	// ErrNotConnected indicates the user has no refresh token on file.
	ErrNotConnected = errors.New("google account not connected")

	// ErrUserNotFound indicates the user row is missing.
	ErrUserNotFound = errors.New("user not found")
)

// Service manages Google OAuth flows against the users table.
type Service struct {
	oauthConfig *oauth2.Config
	userRepo    domain.UserRepository
	encrypter   sharedCrypto.Encrypter
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates an OAuth service. authURL and tokenURL default to the
// Google endpoints and are overridable for tests.
func NewService(
	clientID, clientSecret, authURL, tokenURL, redirectURL string,
	scopes []string,
	userRepo domain.UserRepository,
	encrypter sharedCrypto.Encrypter,
	logger *slog.Logger,
) (*Service, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("oauth client configuration is incomplete")
	}
	if userRepo == nil || encrypter == nil {
		return nil, errors.New("oauth dependencies are required")
	}
	if authURL == "" {
		authURL = "https://accounts.google.com/o/oauth2/auth"
	}
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}

	return &Service{
		oauthConfig: cfg,
		userRepo:    userRepo,
		encrypter:   encrypter,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		now:         time.Now,
	}, nil
}

// AuthURL returns the consent URL with offline access and forced consent so
// a refresh token is always issued.
func (s *Service) AuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeAndStore exchanges an authorization code and stores the encrypted
// token pair on the user row.
func (s *Service) ExchangeAndStore(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("code exchange: %w", err)
	}

	accessEnc, err := s.encrypter.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return err
	}
	var refreshEnc []byte
	if token.RefreshToken != "" {
		refreshEnc, err = s.encrypter.Encrypt([]byte(token.RefreshToken))
		if err != nil {
			return err
		}
	}

	user.ConnectGoogle(accessEnc, refreshEnc, token.Expiry)
	return s.userRepo.Save(ctx, user)
}

// Disconnect clears the user's Google connection.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	user.DisconnectGoogle()
	return s.userRepo.Save(ctx, user)
}

// ValidAccessToken returns an access token that is valid right now. A stored
// token whose expiry is strictly in the future is returned unchanged;
// anything else (including an expiry of exactly now) triggers a refresh.
func (s *Service) ValidAccessToken(ctx context.Context, user *domain.User) (string, error) {
	if len(user.GoogleRefreshToken()) == 0 {
		return "", ErrNotConnected
	}

	expiry := user.GoogleTokenExpiry()
	if expiry != nil && expiry.After(s.now()) && len(user.GoogleAccessToken()) > 0 {
		access, err := s.encrypter.Decrypt(user.GoogleAccessToken())
		if err != nil {
			return "", err
		}
		return string(access), nil
	}

	return s.refresh(ctx, user)
}

// refresh posts a refresh_token grant and persists the outcome. A provider
// failure surfaces without clobbering the stored tokens.
func (s *Service) refresh(ctx context.Context, user *domain.User) (string, error) {
	refreshBytes, err := s.encrypter.Decrypt(user.GoogleRefreshToken())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("client_id", s.oauthConfig.ClientID)
	form.Set("client_secret", s.oauthConfig.ClientSecret)
	form.Set("refresh_token", string(refreshBytes))
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.oauthConfig.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("token refresh read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh: status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("token refresh decode: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token refresh: empty access token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}

	accessEnc, err := s.encrypter.Encrypt([]byte(payload.AccessToken))
	if err != nil {
		return "", err
	}
	var refreshEnc []byte
	if payload.RefreshToken != "" {
		refreshEnc, err = s.encrypter.Encrypt([]byte(payload.RefreshToken))
		if err != nil {
			return "", err
		}
	}

	user.UpdateGoogleTokens(accessEnc, refreshEnc, s.now().Add(time.Duration(payload.ExpiresIn)*time.Second))
	if err := s.userRepo.Save(ctx, user); err != nil {
		return "", err
	}

	s.logger.Debug("google access token refreshed", "user_id", user.ID())
	return payload.AccessToken, nil
}

// TokenSource adapts ValidAccessToken to the oauth2.TokenSource the calendar
// client consumes. Each Token call re-reads the user row so a refresh done
// elsewhere is picked up.
func (s *Service) TokenSource(ctx context.Context, userID uuid.UUID) oauth2.TokenSource {
	return &userTokenSource{svc: s, ctx: ctx, userID: userID}
}

type userTokenSource struct {
	svc    *Service
	ctx    context.Context
	userID uuid.UUID
}

func (ts *userTokenSource) Token() (*oauth2.Token, error) {
	user, err := ts.svc.loadUser(ts.ctx, ts.userID)
	if err != nil {
		return nil, err
	}
	access, err := ts.svc.ValidAccessToken(ts.ctx, user)
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if expiry := user.GoogleTokenExpiry(); expiry != nil {
		token.Expiry = *expiry
	}
	return token, nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ScopesFromEnv parses a comma-separated list of scopes.
func ScopesFromEnv(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
