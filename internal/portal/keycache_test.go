package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error %v is not %v", err, target)
	}
}

func TestPublicKeyFetchWarmsUpAndCaches(t *testing.T) {
	var warmups, fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/AOnline/auth":
			warmups.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc"})
		case "/AOnline/config-properties/public-key":
			if fetches.Add(1); warmups.Load() == 0 {
				t.Error("key fetched before warm-up GET")
			}
			if _, err := r.Cookie("JSESSIONID"); err != nil {
				t.Error("key fetch missing warm-up session cookie")
			}
			w.Write([]byte("-----BEGIN PUBLIC KEY-----\nAA==\n-----END PUBLIC KEY-----\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cache := NewKeyCache(NewMemoryKeyStore(), srv.URL, "", nil)

	first, err := cache.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := cache.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("cached key differs from fetched key")
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("key endpoint hit %d times, want 1", got)
	}
}

func TestPublicKeyFetchFailureDoesNotPopulateCache(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/AOnline/config-properties/public-key" {
			if fail.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("pem-bytes"))
		}
	}))
	defer srv.Close()

	store := NewMemoryKeyStore()
	cache := NewKeyCache(store, srv.URL, "", nil)

	_, err := cache.PublicKey(context.Background())
	assertIs(t, err, ErrCrypto)

	if cached, _ := store.Get(context.Background(), publicKeyCacheKey); cached != nil {
		t.Fatal("failed fetch populated the cache")
	}

	fail.Store(false)
	key, err := cache.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("fetch after recovery: %v", err)
	}
	if string(key) != "pem-bytes" {
		t.Fatalf("key = %q", key)
	}
}

func TestPublicKeyFetchSendsConfiguredUserAgent(t *testing.T) {
	agents := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents[r.URL.Path] = r.Header.Get("User-Agent")
		if r.URL.Path == "/AOnline/config-properties/public-key" {
			w.Write([]byte("pem-bytes"))
		}
	}))
	defer srv.Close()

	cache := NewKeyCache(NewMemoryKeyStore(), srv.URL, "Mozilla/5.0 (inspersync)", nil)
	if _, err := cache.PublicKey(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	for path, agent := range agents {
		if agent != "Mozilla/5.0 (inspersync)" {
			t.Fatalf("request to %s sent User-Agent %q", path, agent)
		}
	}
	if len(agents) != 2 {
		t.Fatalf("expected warm-up and key requests, saw %d", len(agents))
	}
}

func TestMemoryKeyStoreExpiry(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != nil {
		t.Fatal("expired entry served from cache")
	}
}
