package password

import (
	"errors"
	"fmt"
	"testing"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(h, "this is a strong password 123!")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	cases := []struct {
		password string
		want     error
	}{
		{"short", ErrPasswordTooShort},
		{"this password is definitely too long", ErrPasswordTooLong},
		{"goodpassw0rd!", nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := fastConfig()

	for _, h := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdA$aGFzaA",
	} {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) err = %v, want ErrInvalidHash", h, err)
		}
		if ok {
			t.Fatalf("Verify(%q) = true", h)
		}
	}
}

func TestVerify_RejectsExcessiveCost(t *testing.T) {
	cfg := fastConfig()

	// A stored hash demanding far more memory than configured must be
	// refused without running the derivation.
	h := fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		cfg.Params.MemoryKiB*4,
	)
	ok, err := cfg.Verify(h, "whatever")
	if !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err = %v, want ErrInvalidHash", err)
	}
	if ok {
		t.Fatal("expected false")
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 8

	cases := []struct {
		password string
		want     error
	}{
		{"password", ErrWeakPassword},
		{"11111111", ErrWeakPassword},
		{"aaaaaaaaaaaa", ErrWeakPassword},
		{"12345678901", ErrWeakPassword},
		{"a-very-ok-pass", nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}
