package portal

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// Encryptor encrypts portal passwords under the portal's RSA public key.
type Encryptor struct {
	keys *KeyCache
}

// NewEncryptor creates an encryptor backed by the given key cache.
func NewEncryptor(keys *KeyCache) *Encryptor {
	return &Encryptor{keys: keys}
}

// EncryptPassword RSA-encrypts the plaintext with PKCS#1 v1.5 padding (the
// portal does not accept OAEP) and returns the ciphertext base64-encoded
// with the standard alphabet.
func (e *Encryptor) EncryptPassword(ctx context.Context, plaintext string) (string, error) {
	pemBytes, err := e.keys.PublicKey(ctx)
	if err != nil {
		return "", err
	}

	pub, err := parseRSAPublicKey(pemBytes)
	if err != nil {
		return "", cryptoError("parse public key", err)
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", cryptoError("encrypt password", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("unexpected key type %T", key)
		}
		return rsaKey, nil
	}

	return x509.ParsePKCS1PublicKey(block.Bytes)
}
