package session

import (
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecretKey(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", "too-short")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", testSecret)
	t.Setenv("EASEL_AUTH_HARD_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidWindowOrder(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", testSecret)
	t.Setenv("EASEL_AUTH_HARD_TTL", "10m")
	t.Setenv("EASEL_AUTH_REISSUE_WINDOW", "24h")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig when reissue window exceeds hard ttl, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", testSecret)
	t.Setenv("EASEL_AUTH_ISSUER", "easel-test")
	t.Setenv("EASEL_AUTH_HARD_TTL", "48h")
	t.Setenv("EASEL_AUTH_REISSUE_WINDOW", "10m")
	t.Setenv("EASEL_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "easel-test" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.HardTTL != 48*time.Hour {
		t.Errorf("HardTTL = %v", cfg.HardTTL)
	}
	if cfg.ReissueWindow != 10*time.Minute {
		t.Errorf("ReissueWindow = %v", cfg.ReissueWindow)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Errorf("ClockSkew = %v", cfg.ClockSkew)
	}
	if cfg.SecretKey != testSecret {
		t.Errorf("SecretKey mismatch")
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("EASEL_JWT_SECRET", testSecret)
	t.Setenv("EASEL_AUTH_ISSUER", "")
	t.Setenv("EASEL_AUTH_HARD_TTL", "")
	t.Setenv("EASEL_AUTH_REISSUE_WINDOW", "")
	t.Setenv("EASEL_AUTH_CLOCK_SKEW", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	def := DefaultConfig()
	if cfg.Issuer != def.Issuer || cfg.HardTTL != def.HardTTL || cfg.ReissueWindow != def.ReissueWindow {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
