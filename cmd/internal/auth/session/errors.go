package session

import (
	"errors"
	"fmt"

	"warden/cmd/internal/auth/token"
)

var (
	// ErrSessionNotFound is returned when a session id matches no row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPrincipalNotFound is returned when a session references an unknown principal.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrSessionLimit is returned when creating a session would exceed the per-principal cap.
	ErrSessionLimit = errors.New("session limit exceeded")

	// ErrFingerprintTaken is returned when the principal already has an active
	// session with the same device fingerprint. Callers should reuse that session.
	ErrFingerprintTaken = errors.New("fingerprint already bound to an active session")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// SessionLimitError carries the cap that rejected a create.
type SessionLimitError struct {
	PrincipalID string
	Max         int
}

func (e SessionLimitError) Error() string {
	return fmt.Sprintf("%s: principal %s has %d active sessions", ErrSessionLimit.Error(), e.PrincipalID, e.Max)
}

func (e SessionLimitError) Unwrap() error { return ErrSessionLimit }

// StorageError reports a session-store failure, as opposed to a domain
// outcome such as a missing row or a hit cap.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap folds every storage failure into token.ErrStoreUnavailable, the one
// sentinel transport layers map to 503.
func (e StorageError) Unwrap() error { return token.ErrStoreUnavailable }
