package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth and canvas API behavior and security defaults.
type Config struct {
	// DataDir is where per-canvas event logs are created.
	DataDir string

	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	InviteTTL        time.Duration
	InviteMaxTTL     time.Duration
	InviteMaxUses    int
	InviteMaxUsesMax int
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		DataDir:          envString("EASEL_DATA_DIR", "data"),
		TrustProxy:       envBool("EASEL_API_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("EASEL_API_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LoginIPMax:       envInt("EASEL_API_LOGIN_IP_MAX", 20),
		LoginIPWindow:    envDuration("EASEL_API_LOGIN_IP_WINDOW", 5*time.Minute),
		InviteTTL:        envDuration("EASEL_API_INVITE_TTL", 7*24*time.Hour),
		InviteMaxTTL:     envDuration("EASEL_API_INVITE_TTL_MAX", 30*24*time.Hour),
		InviteMaxUses:    envInt("EASEL_API_INVITE_MAX_USES", 1),
		InviteMaxUsesMax: envInt("EASEL_API_INVITE_MAX_USES_MAX", 100),
	}

	// Clamp TTLs to keep them sensible.
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 7 * 24 * time.Hour
	}
	if cfg.InviteMaxTTL <= 0 {
		cfg.InviteMaxTTL = 30 * 24 * time.Hour
	}
	if cfg.InviteTTL > cfg.InviteMaxTTL {
		cfg.InviteTTL = cfg.InviteMaxTTL
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = 20
	}
	if cfg.InviteMaxUses <= 0 {
		cfg.InviteMaxUses = 1
	}
	if cfg.InviteMaxUsesMax < cfg.InviteMaxUses {
		cfg.InviteMaxUsesMax = cfg.InviteMaxUses
	}

	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
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

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
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

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
