package invite

import (
	"context"
	"time"

	"easel/cmd/internal/auth/session"
)

// Invite is a shareable grant: whoever redeems the token receives Level on
// CanvasID. The plain token is returned once at creation; only its hash is
// stored.
type Invite struct {
	ID         string
	CanvasID   string
	Level      session.Level
	CreatedBy  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	RevokedAt  *time.Time
	ConsumedAt *time.Time
	ConsumedBy *string
}

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID        string
	TokenHash string
	CanvasID  string
	Level     session.Level
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
}

// ConsumeRecord describes a token consumption.
type ConsumeRecord struct {
	TokenHash  string
	ConsumedBy string
	Now        time.Time
}

// Store is the persistence boundary for invites.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}
