package token

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")

	// ErrSigning is returned when a token cannot be produced (bad key or claims).
	ErrSigning = errors.New("token signing failed")

	// ErrMalformed is returned when a token is not structurally a token,
	// or its claims are incomplete.
	ErrMalformed = errors.New("token malformed")

	// ErrSignature is returned when the signature does not verify.
	ErrSignature = errors.New("token signature invalid")

	// ErrExpired is returned when the token is past its expiry beyond the
	// configured clock leeway.
	ErrExpired = errors.New("token expired")

	// ErrIssuer is returned when the "iss" claim does not match.
	ErrIssuer = errors.New("token issuer mismatch")

	// ErrAudience is returned when the "aud" claim does not match.
	ErrAudience = errors.New("token audience mismatch")

	// ErrKindMismatch is returned when a structurally valid token is
	// presented where the other kind is expected.
	ErrKindMismatch = errors.New("token kind mismatch")

	// ErrRevoked is returned when the token ID is revoked, and to losers of
	// a concurrent refresh race.
	ErrRevoked = errors.New("token revoked")

	// ErrRotation is returned when refresh rotation fails before a new pair
	// is durably recorded.
	ErrRotation = errors.New("refresh rotation failed")

	// ErrStoreUnavailable is returned when a backing store cannot be
	// reached and policy forbids proceeding without it.
	ErrStoreUnavailable = errors.New("auth store unavailable")
)

// RotationError carries the token that was being rotated when the failure
// hit. The presented token may or may not have been consumed; clients should
// retry and fall back to re-authentication.
type RotationError struct {
	TokenID string
	Err     error
}

func (e RotationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: token %s", ErrRotation.Error(), e.TokenID)
	}
	return fmt.Sprintf("%s: token %s: %v", ErrRotation.Error(), e.TokenID, e.Err)
}

func (e RotationError) Unwrap() error { return ErrRotation }
