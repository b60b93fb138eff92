package portal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// publicKeyCacheKey is the well-known cache key for the portal's
	// PEM-encoded RSA public key.
	publicKeyCacheKey = "insper:public_key"

	// publicKeyTTL bounds how long a fetched key is served from cache.
	publicKeyTTL = time.Hour
)

// KeyStore is the cache backend for the portal public key. Get returns
// (nil, nil) on a miss.
type KeyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKeyStore caches the key in Redis so all workers share one fetch.
type RedisKeyStore struct {
	client *redis.Client
}

// NewRedisKeyStore creates a Redis-backed key store.
func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

// Get retrieves a cached value. A missing key is not an error.
func (s *RedisKeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with the given TTL.
func (s *RedisKeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKeyStore is the process-local twin of RedisKeyStore used in local
// mode and tests. A racing double-fetch is acceptable: both writers store
// the same bytes.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryKeyStore creates an in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{entries: make(map[string]memoryEntry)}
}

// Get retrieves a cached value, treating expired entries as misses.
func (s *MemoryKeyStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value with an absolute expiry.
func (s *MemoryKeyStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// KeyCache fetches and caches the portal's RSA public key.
type KeyCache struct {
	store     KeyStore
	baseURL   string
	userAgent string
	logger    *slog.Logger
}

// NewKeyCache creates a key cache against the given portal base URL. An
// empty userAgent sends no User-Agent header at all, same as the gateway.
func NewKeyCache(store KeyStore, baseURL, userAgent string, logger *slog.Logger) *KeyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyCache{
		store:     store,
		baseURL:   baseURL,
		userAgent: userAgent,
		logger:    logger,
	}
}

// PublicKey returns the PEM-encoded RSA public key served by the portal,
// fetching and caching it on a miss. A failed fetch never populates the
// cache.
func (c *KeyCache) PublicKey(ctx context.Context) ([]byte, error) {
	cached, err := c.store.Get(ctx, publicKeyCacheKey)
	if err != nil {
		c.logger.Warn("public key cache read failed", "error", err)
	}
	if len(cached) > 0 {
		return cached, nil
	}

	pemBytes, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, publicKeyCacheKey, pemBytes, publicKeyTTL); err != nil {
		c.logger.Warn("public key cache write failed", "error", err)
	}
	return pemBytes, nil
}

// fetch retrieves the key with a throwaway cookie-bearing client. The portal
// only serves the key to clients that carry the session cookies issued by a
// prior GET of the auth endpoint, so the warm-up request is load-bearing.
func (c *KeyCache) fetch(ctx context.Context) ([]byte, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, cryptoError("public key fetch", err)
	}
	client := &http.Client{Jar: jar, Timeout: dataTimeout}

	warmup, err := newPortalRequest(ctx, http.MethodGet, c.baseURL+authPath, nil, c.userAgent)
	if err != nil {
		return nil, cryptoError("public key warm-up", err)
	}
	resp, err := client.Do(warmup)
	if err != nil {
		return nil, cryptoError("public key warm-up", err)
	}
	drainAndClose(resp)

	req, err := newPortalRequest(ctx, http.MethodGet, c.baseURL+publicKeyPath, nil, c.userAgent)
	if err != nil {
		return nil, cryptoError("public key fetch", err)
	}
	resp, err = client.Do(req)
	if err != nil {
		return nil, cryptoError("public key fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("public key fetch: %w: status %d", ErrCrypto, resp.StatusCode)
	}

	pemBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cryptoError("public key read", err)
	}
	return pemBytes, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
