package portal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	authPath      = "/AOnline/auth"
	publicKeyPath = "/AOnline/config-properties/public-key"
	apiBasePath   = "/AOnline/apix/api/rest"

	// loginPagePath is what the browser shows; the fragment never travels
	// on the wire, so this is effectively a GET of /AOnline/.
	loginPagePath = "/AOnline/#/login"

	// userDataCookie carries the caller's identity as base64-encoded JSON.
	// It is only present on the login response and must be captured there.
	userDataCookie = "user-data"

	connectTimeout = 10 * time.Second
	dataTimeout    = 30 * time.Second
)

// Identity is the payload of the user-data cookie set on a successful login.
type Identity struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
	Root  bool     `json:"root"`
	Theme string   `json:"theme"`
	// SenhaAlterada is semantically boolean but arrives as the text
	// "true"/"false".
	SenhaAlterada string `json:"senhaAlterada"`
}

// Config configures the portal gateway.
type Config struct {
	// BaseURL is the portal origin, e.g. https://sga.insper.edu.br.
	BaseURL string

	// UserAgent is sent verbatim when non-empty. The portal blocks
	// requests carrying a recognisable User-Agent, so the default is to
	// send none at all.
	UserAgent string

	Logger *slog.Logger
}

// Session is a cookie-bearing HTTP session against the portal. The cookie
// jar carries the portal's own session cookie from the warm-up GET into the
// login POST and every authenticated request after it.
type Session struct {
	cfg       Config
	client    *http.Client
	encryptor *Encryptor
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	logger    *slog.Logger
	identity  *Identity
}

// NewSession creates an unauthenticated portal session.
func NewSession(cfg Config, encryptor *Encryptor) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "insper-portal",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Session{
		cfg:       cfg,
		client:    &http.Client{Jar: jar},
		encryptor: encryptor,
		breaker:   breaker,
		logger:    logger,
		identity:  nil,
	}, nil
}

// Identity returns the identity parsed from the user-data cookie, or nil
// before a successful login.
func (s *Session) Identity() *Identity {
	return s.identity
}

// TestConnection reports whether the portal login page answers with 200.
func (s *Session) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	resp, err := s.get(ctx, s.cfg.BaseURL+loginPagePath)
	if err != nil {
		return false
	}
	drainAndClose(resp)
	return resp.StatusCode == http.StatusOK
}

// Login performs the portal login handshake. The password is the RSA
// ciphertext unless encrypt is true, in which case the plaintext is
// encrypted under the portal's public key first (interactive setup only;
// stored credentials are already ciphertext).
//
// Success requires both HTTP 200 and a user-data cookie on the response.
func (s *Session) Login(ctx context.Context, username, password string, encrypt bool) (*Identity, error) {
	if encrypt {
		ciphertext, err := s.encryptor.EncryptPassword(ctx, password)
		if err != nil {
			return nil, err
		}
		password = ciphertext
	}

	ctx, cancel := context.WithTimeout(ctx, dataTimeout)
	defer cancel()

	// Warm-up GET so the portal issues the session cookie it expects to
	// see on the login POST.
	resp, err := s.get(ctx, s.cfg.BaseURL+authPath)
	if err != nil {
		return nil, connectionError("login warm-up", err)
	}
	drainAndClose(resp)

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := newPortalRequest(ctx, http.MethodPost, s.cfg.BaseURL+authPath,
		strings.NewReader(form.Encode()), s.cfg.UserAgent)
	if err != nil {
		return nil, connectionError("login", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = s.do(req)
	if err != nil {
		return nil, connectionError("login", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("login: status 401: %w", ErrLoginRejected)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: %w: status %d", ErrAuth, resp.StatusCode)
	}

	cookie := responseCookie(resp, userDataCookie)
	if cookie == nil {
		return nil, fmt.Errorf("login: no %s cookie: %w", userDataCookie, ErrLoginRejected)
	}

	// The identity parse is best-effort: the login verdict rests on the
	// status code and cookie presence alone.
	identity, err := parseIdentityCookie(cookie.Value)
	if err != nil {
		s.logger.Warn("user-data cookie parse failed", "error", err)
	} else {
		s.identity = identity
	}

	return s.identity, nil
}

// ValidateCredentials encrypts the plaintext under the portal key, attempts
// a login with the resulting ciphertext, and returns both so the caller can
// persist the ciphertext. The plaintext never leaves this call.
func (s *Session) ValidateCredentials(ctx context.Context, username, plaintext string) (*Identity, string, error) {
	ciphertext, err := s.encryptor.EncryptPassword(ctx, plaintext)
	if err != nil {
		return nil, "", err
	}
	identity, err := s.Login(ctx, username, ciphertext, false)
	if err != nil {
		return nil, "", err
	}
	return identity, ciphertext, nil
}

// get issues a GET through the session's cookie jar and circuit breaker.
func (s *Session) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := newPortalRequest(ctx, http.MethodGet, rawURL, nil, s.cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

// authedGet issues an authenticated GET against an API path with the data
// timeout applied and returns the response body and status.
func (s *Session) authedGet(ctx context.Context, path string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dataTimeout)
	defer cancel()

	resp, err := s.get(ctx, s.cfg.BaseURL+apiBasePath+path)
	if err != nil {
		return nil, 0, connectionError("portal get", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, connectionError("portal read", err)
	}
	return body, resp.StatusCode, nil
}

func (s *Session) do(req *http.Request) (*http.Response, error) {
	return s.breaker.Execute(func() (*http.Response, error) {
		return s.client.Do(req)
	})
}

// newPortalRequest builds a request that sends no User-Agent unless one is
// explicitly configured. Setting the header to the empty string stops
// net/http from injecting its default value.
func newPortalRequest(ctx context.Context, method, rawURL string, body io.Reader, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func parseIdentityCookie(value string) (*Identity, error) {
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decode user-data cookie: %w", err)
		}
	}
	var identity Identity
	if err := json.Unmarshal(decoded, &identity); err != nil {
		return nil, fmt.Errorf("parse user-data cookie: %w", err)
	}
	return &identity, nil
}
