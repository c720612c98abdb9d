package session

import (
	"os"
	"strconv"
	"time"
)

// LimitPolicy decides what Establish does when a principal is at the
// session cap.
type LimitPolicy string

const (
	// LimitPolicyEvictOldest frees a slot by deactivating the
	// least-recently-seen session and revoking its tokens.
	LimitPolicyEvictOldest LimitPolicy = "evict-oldest"
	// LimitPolicyReject refuses the new session with SessionLimitError.
	LimitPolicyReject LimitPolicy = "reject"
)

// Config defines runtime configuration for session tracking.
//
// It controls the per-principal concurrency cap, the behavior at the cap,
// how long an idle session survives the janitor, and per-call store timeouts.
type Config struct {
	// MaxSessions caps concurrently active sessions per principal.
	MaxSessions int

	// LimitPolicy is applied when a create hits MaxSessions.
	LimitPolicy LimitPolicy

	// InactiveTimeout is the idle window after which a session is eligible
	// for purging.
	InactiveTimeout time.Duration

	// StoreTimeout bounds individual session-store calls.
	StoreTimeout time.Duration
}

// DefaultConfig returns the default session policy.
//
// Production deployments tune these via environment variables.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     10,
		LimitPolicy:     LimitPolicyEvictOldest,
		InactiveTimeout: 168 * time.Hour,
		StoreTimeout:    5 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WARDEN_AUTH_MAX_SESSIONS
//   - WARDEN_AUTH_SESSION_LIMIT_POLICY ("evict-oldest" or "reject")
//   - WARDEN_AUTH_INACTIVE_TIMEOUT
//   - WARDEN_AUTH_SESSION_STORE_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WARDEN_AUTH_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return Config{}, ErrConfig
		}
		cfg.MaxSessions = n
	}

	if v := os.Getenv("WARDEN_AUTH_SESSION_LIMIT_POLICY"); v != "" {
		switch LimitPolicy(v) {
		case LimitPolicyEvictOldest, LimitPolicyReject:
			cfg.LimitPolicy = LimitPolicy(v)
		default:
			return Config{}, ErrConfig
		}
	}

	if v := os.Getenv("WARDEN_AUTH_INACTIVE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.InactiveTimeout = d
	}

	if v := os.Getenv("WARDEN_AUTH_SESSION_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	return cfg, nil
}
