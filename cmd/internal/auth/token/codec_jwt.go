package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// wireClaims is the JWT payload. Session ID and kind ride as private claims
// next to the registered set.
type wireClaims struct {
	SessionID string `json:"sid"`
	TokenKind string `json:"kind"`
	jwt.RegisteredClaims
}

type hmacCodec struct {
	issuer   string
	audience string
	leeway   time.Duration
	secret   []byte
}

// NewHMACCodec builds a Codec signing with HMAC-SHA256.
//
// The same secret verifies and signs, so every process sharing it can parse
// pairs issued by any other. Issuer/audience from cfg are stamped on issue
// and enforced on parse.
func NewHMACCodec(cfg Config) (Codec, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrConfig
	}

	leeway := cfg.ClockLeeway
	if leeway < 0 {
		leeway = 0
	}

	return &hmacCodec{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   leeway,
		secret:   cfg.Secret,
	}, nil
}

func (c *hmacCodec) Issue(claims Claims) (string, error) {
	if strings.TrimSpace(claims.TokenID) == "" ||
		strings.TrimSpace(claims.PrincipalID) == "" ||
		strings.TrimSpace(claims.SessionID) == "" {
		return "", fmt.Errorf("%w: missing id claims", ErrSigning)
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return "", fmt.Errorf("%w: unknown kind %q", ErrSigning, claims.Kind)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		return "", fmt.Errorf("%w: expiry not after issue time", ErrSigning)
	}

	wc := wireClaims{
		SessionID: claims.SessionID,
		TokenKind: string(claims.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			Subject:   claims.PrincipalID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	if c.audience != "" {
		wc.Audience = jwt.ClaimStrings{c.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

func (c *hmacCodec) Parse(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformed)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}

	var wc wireClaims
	_, err := jwt.ParseWithClaims(raw, &wc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, classifyParseError(err)
	}

	out := Claims{
		TokenID:     strings.TrimSpace(wc.ID),
		PrincipalID: strings.TrimSpace(wc.Subject),
		SessionID:   strings.TrimSpace(wc.SessionID),
		Kind:        Kind(strings.TrimSpace(wc.TokenKind)),
		Issuer:      wc.Issuer,
	}
	if len(wc.Audience) > 0 {
		out.Audience = wc.Audience[0]
	}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		out.ExpiresAt = wc.ExpiresAt.Time
	}

	if out.TokenID == "" || out.PrincipalID == "" || out.SessionID == "" {
		return Claims{}, fmt.Errorf("%w: missing id claims", ErrMalformed)
	}
	if out.Kind != KindAccess && out.Kind != KindRefresh {
		return Claims{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, wc.TokenKind)
	}

	return out, nil
}

// classifyParseError maps jwt/v5 failures onto the stable error kinds.
// Anything unrecognized counts as malformed rather than leaking library
// error text to callers.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudience
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
