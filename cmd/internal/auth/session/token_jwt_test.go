package session

import (
	"errors"
	"testing"
	"time"
)

func testCodec(t *testing.T, secret string) *TokenCodec {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SecretKey = secret
	codec, err := NewTokenCodec(cfg)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func TestTokenCodec_Roundtrip(t *testing.T) {
	codec := testCodec(t, "0123456789abcdef0123456789abcdef")
	now := time.Now().Truncate(time.Second)

	in, err := Spec{
		UserID:      "u1",
		Email:       "u1@example.com",
		DisplayName: "U One",
		HardExpiry:  now.Add(time.Hour),
		ReissueAt:   now.Add(5 * time.Minute),
		CanvasPermissions: map[string]Level{
			"c1": LevelWriter,
			"c2": LevelCreator,
		},
	}.Build()
	if err != nil {
		t.Fatalf("claims: %v", err)
	}

	raw, err := codec.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	out, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.UserID != in.UserID || out.Email != in.Email || out.DisplayName != in.DisplayName {
		t.Fatalf("identity mismatch: %+v", out)
	}
	if !out.HardExpiry.Equal(in.HardExpiry) || !out.ReissueAt.Equal(in.ReissueAt) {
		t.Fatalf("expiry mismatch: hard %v/%v reissue %v/%v",
			out.HardExpiry, in.HardExpiry, out.ReissueAt, in.ReissueAt)
	}
	if out.PermissionFor("c1") != LevelWriter || out.PermissionFor("c2") != LevelCreator {
		t.Fatalf("permissions mismatch: %v", out.CanvasPermissions)
	}
}

func TestTokenCodec_ExpiredToken(t *testing.T) {
	codec := testCodec(t, "0123456789abcdef0123456789abcdef")
	now := time.Now()

	in, err := Spec{
		UserID:     "u1",
		Email:      "u1@example.com",
		HardExpiry: now.Add(-time.Hour),
	}.Build()
	if err != nil {
		t.Fatalf("claims: %v", err)
	}

	raw, err := codec.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Decode(raw); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
}

func TestTokenCodec_RejectsWrongSecret(t *testing.T) {
	a := testCodec(t, "0123456789abcdef0123456789abcdef")
	b := testCodec(t, "fedcba9876543210fedcba9876543210")
	now := time.Now()

	in, err := Spec{UserID: "u1", Email: "u1@example.com", HardExpiry: now.Add(time.Hour)}.Build()
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	raw, err := a.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Decode(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenCodec_RejectsGarbage(t *testing.T) {
	codec := testCodec(t, "0123456789abcdef0123456789abcdef")
	for _, raw := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := codec.Decode(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Decode(%q) err = %v, want ErrInvalidToken", raw, err)
		}
	}
}

func TestNewTokenCodec_RequiresStrongSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecretKey = "short"
	if _, err := NewTokenCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
