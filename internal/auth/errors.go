package auth

import "errors"

var (
	// ErrTokenInvalid is returned when a token fails signature, expiry,
	// issuer or subject checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrNoSecret is returned when signing is attempted without a secret.
	ErrNoSecret = errors.New("auth: no signing secret configured")

	// ErrNoSubject is returned when a token would be issued without a subject.
	ErrNoSubject = errors.New("auth: subject is required")
)
