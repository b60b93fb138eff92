package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/identity/domain"
	sharedCrypto "github.com/inspersync/inspersync/internal/shared/infrastructure/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *memUserRepo) Save(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID()] = user
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id], nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email() == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindAll(_ context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.User
	for _, u := range r.users {
		all = append(all, u)
	}
	return all, nil
}

func (r *memUserRepo) FindAllSyncable(ctx context.Context) ([]*domain.User, error) {
	all, _ := r.FindAll(ctx)
	var syncable []*domain.User
	for _, u := range all {
		if u.CanSync() {
			syncable = append(syncable, u)
		}
	}
	return syncable, nil
}

func (r *memUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func testEncrypter(t *testing.T) sharedCrypto.Encrypter {
	t.Helper()
	key, err := sharedCrypto.NewRandomBase64Key()
	require.NoError(t, err)
	enc, err := sharedCrypto.NewAESGCMFromBase64Key(key)
	require.NoError(t, err)
	return enc
}

func newTestService(t *testing.T, repo *memUserRepo, enc sharedCrypto.Encrypter, tokenURL string) *Service {
	t.Helper()
	svc, err := NewService("client-id", "client-secret", "https://auth.example/consent", tokenURL,
		"http://localhost/callback", []string{"https://www.googleapis.com/auth/calendar"}, repo, enc, nil)
	require.NoError(t, err)
	return svc
}

func connectedUser(t *testing.T, repo *memUserRepo, enc sharedCrypto.Encrypter, access, refresh string, expiry time.Time) *domain.User {
	t.Helper()
	user := domain.NewUser("ana@al.insper.edu.br", "Ana")
	accessEnc, err := enc.Encrypt([]byte(access))
	require.NoError(t, err)
	refreshEnc, err := enc.Encrypt([]byte(refresh))
	require.NoError(t, err)
	user.ConnectGoogle(accessEnc, refreshEnc, expiry)
	require.NoError(t, repo.Save(context.Background(), user))
	return user
}

func TestAuthURLForcesConsentAndOfflineAccess(t *testing.T) {
	repo := newMemUserRepo()
	svc := newTestService(t, repo, testEncrypter(t), "https://token.example/token")

	authURL := svc.AuthURL("state-123")
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "prompt=consent")
	assert.Contains(t, authURL, "state=state-123")
}

func TestValidAccessTokenReturnsStoredWhenNotExpired(t *testing.T) {
	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, "https://token.example/should-not-be-called")

	user := connectedUser(t, repo, enc, "stored-access", "stored-refresh", time.Now().Add(time.Hour))

	token, err := svc.ValidAccessToken(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
}

func TestValidAccessTokenRefreshesOnExpiry(t *testing.T) {
	var refreshCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
		fmt.Fprint(w, `{"access_token":"fresh-access","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, srv.URL)

	user := connectedUser(t, repo, enc, "stale-access", "stored-refresh", time.Now().Add(-time.Minute))

	token, err := svc.ValidAccessToken(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, 1, refreshCalls)

	// Expiry was persisted; provider returned no refresh token, so the
	// old one survives.
	stored, err := repo.FindByID(context.Background(), user.ID())
	require.NoError(t, err)
	require.NotNil(t, stored.GoogleTokenExpiry())
	assert.True(t, stored.GoogleTokenExpiry().After(time.Now().Add(50*time.Minute)))

	oldRefresh, err := enc.Decrypt(stored.GoogleRefreshToken())
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", string(oldRefresh))
}

func TestValidAccessTokenExpiryExactlyNowRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","expires_in":3600}`)
	}))
	defer srv.Close()

	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, srv.URL)

	now := time.Now()
	svc.now = func() time.Time { return now }
	user := connectedUser(t, repo, enc, "stale", "refresh", now)

	token, err := svc.ValidAccessToken(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestValidAccessTokenAdoptsNewRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"rotated","expires_in":3600}`)
	}))
	defer srv.Close()

	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, srv.URL)
	user := connectedUser(t, repo, enc, "stale", "old-refresh", time.Now().Add(-time.Minute))

	_, err := svc.ValidAccessToken(context.Background(), user)
	require.NoError(t, err)

	stored, _ := repo.FindByID(context.Background(), user.ID())
	rotated, err := enc.Decrypt(stored.GoogleRefreshToken())
	require.NoError(t, err)
	assert.Equal(t, "rotated", string(rotated))
}

func TestValidAccessTokenProviderFailureKeepsStoredState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, srv.URL)
	user := connectedUser(t, repo, enc, "stale", "refresh", time.Now().Add(-time.Minute))
	before := user.GoogleRefreshToken()

	_, err := svc.ValidAccessToken(context.Background(), user)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")

	stored, _ := repo.FindByID(context.Background(), user.ID())
	assert.Equal(t, before, stored.GoogleRefreshToken())
}

func TestValidAccessTokenWithoutRefreshToken(t *testing.T) {
	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, "https://token.example")

	user := domain.NewUser("ana@al.insper.edu.br", "Ana")
	require.NoError(t, repo.Save(context.Background(), user))

	_, err := svc.ValidAccessToken(context.Background(), user)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTokenSourceServesRefreshedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","expires_in":3600}`)
	}))
	defer srv.Close()

	repo := newMemUserRepo()
	enc := testEncrypter(t)
	svc := newTestService(t, repo, enc, srv.URL)
	user := connectedUser(t, repo, enc, "stale", "refresh", time.Now().Add(-time.Minute))

	source := svc.TokenSource(context.Background(), user.ID())
	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
}

func TestScopesFromEnv(t *testing.T) {
	assert.Nil(t, ScopesFromEnv(""))
	assert.Equal(t,
		[]string{"https://a", "https://b"},
		ScopesFromEnv(" https://a, https://b ,"),
	)
}
