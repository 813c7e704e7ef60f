package session

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the credential lifetime, the reissue window driving proactive
// permission refresh, clock skew tolerance, and the token signing secret.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of credential tokens.
	Issuer string

	// HardTTL is the unconditional session lifetime assigned at login.
	HardTTL time.Duration

	// ReissueWindow is how long cached canvas permissions are trusted before
	// being re-derived from the source of truth. The ledger pruner runs on
	// this period and prunes entries older than twice this window.
	ReissueWindow time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// SecretKey signs credential tokens (HMAC-SHA256). Required, >= 32 bytes.
	SecretKey string
}

// DefaultConfig returns a configuration suitable for development.
// The secret must still be provided via environment.
func DefaultConfig() Config {
	return Config{
		Issuer:        "easel",
		HardTTL:       7 * 24 * time.Hour,
		ReissueWindow: 5 * time.Minute,
		ClockSkew:     30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - EASEL_JWT_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - EASEL_AUTH_ISSUER
//   - EASEL_AUTH_HARD_TTL
//   - EASEL_AUTH_REISSUE_WINDOW
//   - EASEL_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("EASEL_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("EASEL_AUTH_HARD_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.HardTTL = d
	}

	if v := os.Getenv("EASEL_AUTH_REISSUE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ReissueWindow = d
	}

	if v := os.Getenv("EASEL_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.SecretKey = os.Getenv("EASEL_JWT_SECRET")
	if len(cfg.SecretKey) < 32 {
		return Config{}, ErrConfig
	}

	// Invariant: the reissue window must fit inside the hard lifetime,
	// otherwise no refresh would ever fire.
	if cfg.ReissueWindow >= cfg.HardTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
