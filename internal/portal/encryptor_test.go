package portal

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, pemBytes
}

func seededKeyCache(t *testing.T, pemBytes []byte) *KeyCache {
	t.Helper()
	store := NewMemoryKeyStore()
	if err := store.Set(context.Background(), publicKeyCacheKey, pemBytes, time.Hour); err != nil {
		t.Fatalf("seed key store: %v", err)
	}
	return NewKeyCache(store, "http://unused", "", nil)
}

func TestEncryptPasswordRoundTrip(t *testing.T) {
	key, pemBytes := testKeyPEM(t)
	enc := NewEncryptor(seededKeyCache(t, pemBytes))

	encoded, err := enc.EncryptPassword(context.Background(), "s3cr3t-senha")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("ciphertext is not standard base64: %v", err)
	}
	if got, want := len(ciphertext), key.PublicKey.Size(); got != want {
		t.Fatalf("ciphertext length = %d, want modulus size %d", got, want)
	}

	plaintext, err := rsa.DecryptPKCS1v15(nil, key, ciphertext)
	if err != nil {
		t.Fatalf("decrypt with PKCS#1 v1.5: %v", err)
	}
	if string(plaintext) != "s3cr3t-senha" {
		t.Fatalf("round-trip = %q", plaintext)
	}
}

func TestEncryptPasswordBadKey(t *testing.T) {
	enc := NewEncryptor(seededKeyCache(t, []byte("not a pem block")))

	_, err := enc.EncryptPassword(context.Background(), "senha")
	if err == nil {
		t.Fatal("expected error for invalid PEM")
	}
	assertIs(t, err, ErrCrypto)
}
