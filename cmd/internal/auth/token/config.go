package token

import (
	"os"
	"time"
)

// Policy decides what validation does when the revocation store cannot be
// reached: refuse the token (fail-closed) or accept a signature-valid,
// unexpired token without the revocation check (fail-open).
type Policy string

const (
	PolicyFailClosed Policy = "fail-closed"
	PolicyFailOpen   Policy = "fail-open"
)

// MinSecretBytes is the minimum HMAC-SHA256 signing secret size.
const MinSecretBytes = 32

// Config defines all runtime configuration for the token subsystem.
//
// It controls pair TTLs, clock skew tolerance, issuer/audience pinning,
// the HMAC signing secret, and the revocation-outage policy.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim and checked on parse.
	Issuer string

	// Audience is the value set in the "aud" claim and checked on parse.
	Audience string

	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens. Must exceed AccessTTL.
	RefreshTTL time.Duration

	// ClockLeeway is the allowed time skew during token validation.
	ClockLeeway time.Duration

	// RevocationPolicy is the fail-open/fail-closed stance for revocation
	// store outages during validation. There is no env default: deployments
	// must set WARDEN_AUTH_REVOCATION_POLICY explicitly.
	RevocationPolicy Policy

	// StoreTimeout bounds each revocation store call.
	StoreTimeout time.Duration

	// Secret is the HMAC-SHA256 signing key (>= MinSecretBytes).
	Secret []byte
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
// The signing secret has no default and must always be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:           "warden",
		Audience:         "warden",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		ClockLeeway:      10 * time.Second,
		RevocationPolicy: PolicyFailClosed,
		StoreTimeout:     5 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - WARDEN_AUTH_TOKEN_SECRET (>= 32 bytes)
//   - WARDEN_AUTH_REVOCATION_POLICY ("fail-closed" or "fail-open"; no default)
//
// Optional (durations must be valid Go duration strings):
//   - WARDEN_AUTH_ISSUER
//   - WARDEN_AUTH_AUDIENCE
//   - WARDEN_AUTH_ACCESS_TTL
//   - WARDEN_AUTH_REFRESH_TTL
//   - WARDEN_AUTH_CLOCK_LEEWAY
//   - WARDEN_AUTH_STORE_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WARDEN_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("WARDEN_AUTH_AUDIENCE"); v != "" {
		cfg.Audience = v
	}

	if v := os.Getenv("WARDEN_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = d
	}

	if v := os.Getenv("WARDEN_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("WARDEN_AUTH_CLOCK_LEEWAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockLeeway = d
	}

	if v := os.Getenv("WARDEN_AUTH_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	// The outage stance is a deliberate deployment decision; refuse to guess.
	switch Policy(os.Getenv("WARDEN_AUTH_REVOCATION_POLICY")) {
	case PolicyFailClosed:
		cfg.RevocationPolicy = PolicyFailClosed
	case PolicyFailOpen:
		cfg.RevocationPolicy = PolicyFailOpen
	default:
		return Config{}, ErrConfig
	}

	secret := os.Getenv("WARDEN_AUTH_TOKEN_SECRET")
	if len(secret) < MinSecretBytes {
		return Config{}, ErrConfig
	}
	cfg.Secret = []byte(secret)

	// Invariants: a refresh token must outlive the access tokens it renews.
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
