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

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, EASEL_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and invite-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	// CORS allowlist. Empty means no cross-origin access.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("EASEL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("EASEL_LOG_LEVEL", "info"),
		LogFormat: EnvString("EASEL_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("EASEL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("EASEL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("EASEL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("EASEL_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("EASEL_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("EASEL_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("EASEL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("EASEL_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("EASEL_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("EASEL_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvStringSlice("EASEL_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("EASEL_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("EASEL_CORS_MAX_AGE_SECONDS", 600),
	}
}
