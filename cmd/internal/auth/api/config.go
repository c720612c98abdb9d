package api

import (
	"os"
	"strconv"
	"strings"
)

// Config controls HTTP-level behavior of the session endpoints.
type Config struct {
	// TrustProxy enables X-Forwarded-For / X-Real-IP as the client address.
	// Leave off unless a trusted reverse proxy sets these headers.
	TrustProxy bool

	// MaxBodyBytes caps request body size for JSON endpoints.
	MaxBodyBytes int64
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults (WARDEN_AUTH_TRUST_PROXY, WARDEN_AUTH_MAX_BODY_BYTES).
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("WARDEN_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("WARDEN_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
