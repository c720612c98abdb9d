package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL string

	// If true, /readyz returns 503 unless the dependency is configured
	// and reachable.
	ReadinessRequireDB    bool
	ReadinessRequireRedis bool

	// JanitorInterval is the cadence of the background purge of expired
	// revocation entries and stale session rows.
	JanitorInterval time.Duration

	// Security policy:
	// If true, WARDEN_FINGERPRINT_KEY MUST be set (>= 32 bytes) and device
	// fingerprints must be keyed MACs.
	RequireFingerprintKey bool

	// CORS policy for browser clients. An empty origin list disables the
	// middleware entirely.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("WARDEN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("WARDEN_LOG_LEVEL", "info"),
		LogFormat: EnvString("WARDEN_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("WARDEN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WARDEN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WARDEN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WARDEN_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WARDEN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WARDEN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WARDEN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WARDEN_DB_MIN_CONNS", 0),

		RedisURL: EnvString("WARDEN_REDIS_URL", ""),

		ReadinessRequireDB:    EnvBool("WARDEN_READINESS_REQUIRE_DB", false),
		ReadinessRequireRedis: EnvBool("WARDEN_READINESS_REQUIRE_REDIS", false),

		JanitorInterval: EnvDuration("WARDEN_JANITOR_INTERVAL", time.Hour),

		RequireFingerprintKey: EnvBool("WARDEN_REQUIRE_FINGERPRINT_KEY", false),

		CORSAllowedOrigins:   EnvStringSlice("WARDEN_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("WARDEN_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("WARDEN_CORS_MAX_AGE_SECONDS", 600),
	}
}
