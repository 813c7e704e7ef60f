package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"easel/cmd/internal/auth/session"
	"easel/cmd/internal/ids"
	"easel/cmd/security/token"
)

const defaultTokenBytes = 32

// CreateInput describes invite creation.
type CreateInput struct {
	CanvasID  string
	Level     session.Level
	CreatedBy string
	TTL       time.Duration
	MaxUses   int
	Now       time.Time
}

// ConsumeInput describes invite consumption.
type ConsumeInput struct {
	Token      string
	ConsumedBy string
	Now        time.Time
}

// Service manages canvas invite creation, validation, and consumption.
// The permission grant that follows a successful consumption belongs to the
// caller; the service only accounts for the token lifecycle.
type Service struct {
	store      Store
	tokenBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, tokenBytes: defaultTokenBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite creates a new invite and returns the invite plus its plain token.
// Owner and Creator levels cannot be granted through invites.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if s == nil || s.store == nil {
		return Invite{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	if strings.TrimSpace(in.CanvasID) == "" || strings.TrimSpace(in.CreatedBy) == "" {
		return Invite{}, "", ErrInvalidInput
	}
	if _, ok := session.ParseLevel(string(in.Level)); !ok || in.Level.Immutable() {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}

	tokenPlain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	tokenHash := token.HashOpaqueTokenHex(tokenPlain)

	inviteID, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:        inviteID,
		TokenHash: tokenHash,
		CanvasID:  strings.TrimSpace(in.CanvasID),
		Level:     in.Level,
		CreatedBy: strings.TrimSpace(in.CreatedBy),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, tokenPlain, nil
}

// ValidateInvite checks whether a token is valid and active at the given time.
func (s *Service) ValidateInvite(ctx context.Context, tokenStr string, now time.Time) (bool, Invite, error) {
	if s == nil || s.store == nil {
		return false, Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return false, Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tokenHash := token.HashOpaqueTokenHex(tokenStr)
	inv, err := s.store.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}

	if inv.RevokedAt != nil {
		return false, inv, nil
	}
	if !inv.ExpiresAt.After(now) {
		return false, inv, nil
	}
	if inv.MaxUses > 0 && inv.UsedCount >= inv.MaxUses {
		return false, inv, nil
	}

	return true, inv, nil
}

// ConsumeInvite marks an invite as used and returns the grant to apply.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr := strings.TrimSpace(in.Token)
	if tokenStr == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  token.HashOpaqueTokenHex(tokenStr),
		ConsumedBy: strings.TrimSpace(in.ConsumedBy),
		Now:        in.Now,
	})
}

// RevokeInvite invalidates an invite before its expiry.
func (s *Service) RevokeInvite(ctx context.Context, id string, now time.Time) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, id, now)
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
