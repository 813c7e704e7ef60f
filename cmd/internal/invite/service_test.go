package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"easel/cmd/internal/auth/session"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewInMemoryStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateInvite_Roundtrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inv, tok, err := svc.CreateInvite(ctx, CreateInput{
		CanvasID:  "canvas-1",
		Level:     session.LevelWriter,
		CreatedBy: "user-1",
		Now:       now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.ID == "" || tok == "" {
		t.Fatalf("expected id and token, got %+v / %q", inv, tok)
	}
	if inv.CanvasID != "canvas-1" || inv.Level != session.LevelWriter {
		t.Fatalf("unexpected invite: %+v", inv)
	}
	if inv.MaxUses != 1 {
		t.Fatalf("expected default max uses 1, got %d", inv.MaxUses)
	}
	if got, want := inv.ExpiresAt, now.Add(7*24*time.Hour); !got.Equal(want) {
		t.Fatalf("expected default TTL expiry %v, got %v", want, got)
	}

	ok, got, err := svc.ValidateInvite(ctx, tok, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid invite")
	}
	if got.ID != inv.ID {
		t.Fatalf("expected invite %s, got %s", inv.ID, got.ID)
	}
}

func TestCreateInvite_RejectsLevels(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		level session.Level
	}{
		{"owner", session.LevelOwner},
		{"creator", session.LevelCreator},
		{"unknown", session.Level("X")},
		{"empty", session.Level("")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.CreateInvite(ctx, CreateInput{
				CanvasID:  "canvas-1",
				Level:     tc.level,
				CreatedBy: "user-1",
			})
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateInvite_UnknownToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	ok, _, err := svc.ValidateInvite(context.Background(), "no-such-token", time.Now().UTC())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Fatalf("expected unknown token to be invalid")
	}
}

func TestValidateInvite_Expired(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, tok, err := svc.CreateInvite(ctx, CreateInput{
		CanvasID:  "canvas-1",
		Level:     session.LevelViewer,
		CreatedBy: "user-1",
		TTL:       time.Hour,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, _, err := svc.ValidateInvite(ctx, tok, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Fatalf("expected invite to be invalid at expiry")
	}
}

func TestConsumeInvite_MaxUses(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, tok, err := svc.CreateInvite(ctx, CreateInput{
		CanvasID:  "canvas-1",
		Level:     session.LevelWriter,
		CreatedBy: "user-1",
		MaxUses:   2,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "user-2", Now: now})
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if first.UsedCount != 1 {
		t.Fatalf("expected used_count=1, got %d", first.UsedCount)
	}

	second, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "user-3", Now: now})
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second.UsedCount != 2 {
		t.Fatalf("expected used_count=2, got %d", second.UsedCount)
	}
	if second.ConsumedBy == nil || *second.ConsumedBy != "user-3" {
		t.Fatalf("expected last consumer user-3, got %+v", second.ConsumedBy)
	}

	if _, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "user-4", Now: now}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after max uses, got %v", err)
	}
}

func TestConsumeInvite_Unknown(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	_, err := svc.ConsumeInvite(context.Background(), ConsumeInput{Token: "nope", ConsumedBy: "user-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeInvite(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inv, tok, err := svc.CreateInvite(ctx, CreateInput{
		CanvasID:  "canvas-1",
		Level:     session.LevelModerator,
		CreatedBy: "user-1",
		Now:       now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.RevokeInvite(ctx, inv.ID, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	ok, got, err := svc.ValidateInvite(ctx, tok, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Fatalf("expected revoked invite to be invalid")
	}
	if got.RevokedAt == nil {
		t.Fatalf("expected revoked_at to be set")
	}

	if _, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "user-2", Now: now}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if err := svc.RevokeInvite(ctx, inv.ID, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double revoke, got %v", err)
	}
}
