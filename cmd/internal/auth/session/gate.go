package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ClaimsSource re-derives a user's display fields and canvas permissions
// from the source of truth. Implemented by the catalog store.
type ClaimsSource interface {
	// UserGrants resolves by user id, falling back to email when the id is
	// unknown. Returns the current display name and permission map.
	UserGrants(ctx context.Context, userID, email string) (displayName string, grants map[string]Level, err error)
}

// RefreshSink observes successful refreshes so that permission lookups made
// by the canvas hub see the change without another database hit.
// Implemented by the realtime registry.
type RefreshSink interface {
	// UpdateClaims replaces the cached claims for a connected user.
	// Reports false (not an error) when the user holds no live connections.
	UpdateClaims(userID string, c Claims) bool
}

// Outcome is the result of a gate check.
type Outcome struct {
	// Claims to attach to the in-flight operation. Identical to the input
	// claims when no refresh occurred.
	Claims Claims
	// Refreshed tells HTTP-style callers to persist a new credential.
	Refreshed bool
}

// Gate decides pass/refresh/reject for a session's current claims.
//
// Hard check: past the hard expiry the session is rejected outright.
// Soft check: a refresh is required when the reissue time has passed or the
// ledger holds a pending mark for the user. A refresh keeps the original
// hard expiry and assigns a new reissue time one window ahead.
type Gate struct {
	cfg    Config
	log    *slog.Logger
	ledger *Ledger
	source ClaimsSource
	sink   RefreshSink
}

// NewGate constructs a Gate. The sink may be nil when no live-connection
// registry exists (tests, CLI tools).
func NewGate(cfg Config, log *slog.Logger, ledger *Ledger, source ClaimsSource, sink RefreshSink) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{cfg: cfg, log: log, ledger: ledger, source: source, sink: sink}
}

// Ledger exposes the gate's pending-refresh ledger for permission-affecting
// mutations to mark.
func (g *Gate) Ledger() *Ledger { return g.ledger }

// Authorize runs the full freshness protocol for an HTTP-style interaction.
// A pending ledger mark is consumed: at most one consumption per mark.
func (g *Gate) Authorize(ctx context.Context, now time.Time, c Claims) (Outcome, error) {
	return g.check(ctx, now, c, true)
}

// AuthorizeUpgrade runs the protocol for a connection upgrade. The ledger is
// only peeked, not consumed, so the mark stays available for the HTTP-side
// request that follows the socket's lifetime.
func (g *Gate) AuthorizeUpgrade(ctx context.Context, now time.Time, c Claims) (Outcome, error) {
	return g.check(ctx, now, c, false)
}

func (g *Gate) check(ctx context.Context, now time.Time, c Claims, consume bool) (Outcome, error) {
	if c.HardExpired(now.Add(-g.cfg.ClockSkew)) {
		return Outcome{}, ErrAuthExpired
	}

	// Consume unconditionally so a mark satisfied by a soft-expiry refresh
	// does not linger and re-trigger on the next request.
	var marked bool
	if consume {
		marked = g.ledger.Consume(c.UserID)
	} else {
		marked = g.ledger.HasPending(c.UserID)
	}

	if !marked && !c.NeedsReissue(now) {
		return Outcome{Claims: c}, nil
	}

	fresh, err := g.Refresh(ctx, now, c)
	if err != nil {
		g.log.Warn("gate.refresh.fail", "user_id", c.UserID, "marked", marked, "err", err)
		return Outcome{}, err
	}

	g.log.Debug("gate.refresh", "user_id", c.UserID, "marked", marked, "canvases", len(fresh.CanvasPermissions))
	return Outcome{Claims: fresh, Refreshed: true}, nil
}

// Refresh re-derives claims from the source of truth, keeping the original
// hard expiry and assigning a new reissue time. A lookup failure of any kind
// is a reject: proceeding on stale permissions is never acceptable.
func (g *Gate) Refresh(ctx context.Context, now time.Time, old Claims) (Claims, error) {
	displayName, grants, err := g.source.UserGrants(ctx, old.UserID, old.Email)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	fresh, err := Spec{
		UserID:            old.UserID,
		Email:             old.Email,
		DisplayName:       displayName,
		HardExpiry:        old.HardExpiry,
		ReissueAt:         now.Add(g.cfg.ReissueWindow),
		CanvasPermissions: grants,
	}.Build()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if g.sink != nil {
		g.sink.UpdateClaims(fresh.UserID, fresh)
	}
	return fresh, nil
}

// Issue builds brand-new claims at login or registration time.
func (g *Gate) Issue(now time.Time, userID, email, displayName string, grants map[string]Level) (Claims, error) {
	return Spec{
		UserID:            userID,
		Email:             email,
		DisplayName:       displayName,
		HardExpiry:        now.Add(g.cfg.HardTTL),
		ReissueAt:         now.Add(g.cfg.ReissueWindow),
		CanvasPermissions: grants,
	}.Build()
}
