package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a process-local Store for development and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Invite
	byHash map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]*Invite),
		byHash: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if s == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" ||
		strings.TrimSpace(in.CanvasID) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[in.ID]; ok {
		return Invite{}, ErrInvalidInput
	}
	if _, ok := s.byHash[in.TokenHash]; ok {
		return Invite{}, ErrInvalidInput
	}

	inv := &Invite{
		ID:        in.ID,
		CanvasID:  in.CanvasID,
		Level:     in.Level,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
	}
	s.byID[in.ID] = inv
	s.byHash[in.TokenHash] = in.ID
	return cloneInvite(inv), nil
}

func (s *InMemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if s == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return cloneInvite(s.byID[id]), nil
}

func (s *InMemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if s == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[strings.TrimSpace(in.TokenHash)]
	if !ok {
		return Invite{}, ErrNotFound
	}
	inv := s.byID[id]
	if inv.RevokedAt != nil || !in.Now.Before(inv.ExpiresAt) || inv.UsedCount >= inv.MaxUses {
		return Invite{}, ErrNotActive
	}

	inv.UsedCount++
	at := in.Now
	by := in.ConsumedBy
	inv.ConsumedAt = &at
	inv.ConsumedBy = &by
	return cloneInvite(inv), nil
}

func (s *InMemoryStore) Revoke(ctx context.Context, id string, now time.Time) error {
	if s == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byID[id]
	if !ok || inv.RevokedAt != nil {
		return ErrNotFound
	}
	at := now
	inv.RevokedAt = &at
	return nil
}

func cloneInvite(in *Invite) Invite {
	out := *in
	if in.RevokedAt != nil {
		v := *in.RevokedAt
		out.RevokedAt = &v
	}
	if in.ConsumedAt != nil {
		v := *in.ConsumedAt
		out.ConsumedAt = &v
	}
	if in.ConsumedBy != nil {
		v := *in.ConsumedBy
		out.ConsumedBy = &v
	}
	return out
}
