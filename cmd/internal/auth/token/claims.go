package token

import "time"

// Kind separates the two credential roles. Validation always checks the
// kind so a refresh token can never pass where an access token is expected,
// and vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the verified content of a token.
type Claims struct {
	// TokenID is unique per issued token (ULID); it is the revocation key.
	TokenID string

	PrincipalID string
	SessionID   string
	Kind        Kind

	Issuer   string
	Audience string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and parses tokens. Parse performs all time-independent and
// time-dependent checks except revocation, which is the Service's job.
type Codec interface {
	// Issue signs claims into a compact token string. Issuer and audience
	// are stamped from codec configuration.
	Issue(claims Claims) (string, error)

	// Parse verifies raw against now and returns its claims.
	// Errors are one of the stable kinds: ErrMalformed, ErrSignature,
	// ErrExpired, ErrIssuer, ErrAudience.
	Parse(raw string, now time.Time) (Claims, error)
}
