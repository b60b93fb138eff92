// Package portal is the gateway to the Insper academic portal: public-key
// fetch and caching, password encryption, the cookie-based login handshake,
// academic profile lookup, and the monthly-paged schedule scraper.
package portal

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the portal gateway. The sync orchestrator is the
// only place that converts these into session status.
var (
	// ErrConnection indicates a network or HTTP transport failure.
	ErrConnection = errors.New("portal connection failed")

	// ErrAuth indicates the portal rejected the caller: login refused,
	// profile missing, or an authenticated request bounced.
	ErrAuth = errors.New("portal authentication failed")

	// ErrLoginRejected wraps ErrAuth for an explicit credential rejection
	// (HTTP 401 or a login response without the identity cookie). Not
	// retryable: the stored credentials are bad until the user resets them.
	ErrLoginRejected = fmt.Errorf("login rejected: %w", ErrAuth)

	// ErrCrypto indicates the public-key fetch or RSA encryption failed.
	ErrCrypto = errors.New("portal crypto failure")
)

func connectionError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrConnection, err)
}

func authError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrAuth, err)
}

func cryptoError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrCrypto, err)
}
