package realtime

import (
	"context"
	"log/slog"
	"sync"

	"easel/cmd/internal/auth/session"
)

// Registry tracks, per user, the current claims snapshot and every live
// connection. It is the authorization read path for the hub: permission
// checks on drawing and moderation actions hit this map, never the database.
//
// Concurrency guarantees:
//   - Attach/Detach are safe under concurrent permission reads.
//   - A second login never overwrites fresher claims with its own stale copy;
//     claims change only through UpdateClaims or RefreshPermissions.
//   - When a user's last connection detaches, the whole entry is evicted.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]*userEntry
}

type userEntry struct {
	claims session.Claims
	conns  map[string]*Conn // conn id -> conn
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		users: make(map[string]*userEntry),
	}
}

// Attach registers a live connection. The first connection for a user stores
// the given claims; later connections only join the set, so a stale second
// login cannot clobber claims refreshed since.
func (r *Registry) Attach(userID string, claims session.Claims, conn *Conn) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	e := r.users[userID]
	if e == nil {
		e = &userEntry{claims: claims, conns: make(map[string]*Conn)}
		r.users[userID] = e
	}
	e.conns[conn.ID] = conn
	n := len(e.conns)
	r.mu.Unlock()

	r.log.Info("registry.attach", "user_id", userID, "conn_id", conn.ID, "conns", n)
}

// Detach removes exactly one connection. The entry (claims included) is
// evicted when the set empties; authorization state for absent users is
// irrelevant.
func (r *Registry) Detach(userID string, conn *Conn) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	e := r.users[userID]
	if e != nil {
		delete(e.conns, conn.ID)
		if len(e.conns) == 0 {
			delete(r.users, userID)
		}
	}
	r.mu.Unlock()

	r.log.Info("registry.detach", "user_id", userID, "conn_id", conn.ID)
}

// UpdateClaims wholesale-replaces a user's claims. It reports whether the
// user had a live entry; a disconnected user is a no-op, not an error.
// It implements session.RefreshSink.
func (r *Registry) UpdateClaims(userID string, c session.Claims) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[userID]
	if e == nil {
		return false
	}
	e.claims = c
	return true
}

// PermissionLevel is the O(1) read used on every drawing and moderation
// action. Absence of the user or the canvas both yield LevelNone.
func (r *Registry) PermissionLevel(userID, canvasID string) session.Level {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.users[userID]
	if e == nil {
		return session.LevelNone
	}
	return e.claims.PermissionFor(canvasID)
}

// Claims returns the current claims snapshot for a live user.
func (r *Registry) Claims(userID string) (session.Claims, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.users[userID]
	if e == nil {
		return session.Claims{}, false
	}
	return e.claims, true
}

// Connections returns a snapshot of the user's live connections.
func (r *Registry) Connections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.users[userID]
	if e == nil {
		return nil
	}
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// RefreshFunc re-derives claims from the source of truth, typically
// session.Gate.Refresh bound to a timestamp.
type RefreshFunc func(ctx context.Context, old session.Claims) (session.Claims, error)

// RefreshPermissions re-derives a live user's claims and pushes one
// permission notice per affected canvas to every connection the user holds,
// so open canvases reflect a grant change without a reconnect. A canvas
// present before and absent after is announced with an empty permission.
//
// A disconnected user is a no-op.
func (r *Registry) RefreshPermissions(ctx context.Context, userID string, refresh RefreshFunc) error {
	old, ok := r.Claims(userID)
	if !ok {
		return nil
	}

	fresh, err := refresh(ctx, old)
	if err != nil {
		return err
	}
	r.UpdateClaims(userID, fresh)

	affected := make(map[string]session.Level)
	for canvasID, lvl := range fresh.CanvasPermissions {
		if old.PermissionFor(canvasID) != lvl {
			affected[canvasID] = lvl
		}
	}
	for canvasID := range old.CanvasPermissions {
		if _, still := fresh.CanvasPermissions[canvasID]; !still {
			affected[canvasID] = session.LevelNone
		}
	}
	if len(affected) == 0 {
		return nil
	}

	conns := r.Connections(userID)
	for canvasID, lvl := range affected {
		msg := encodePermission(canvasID, string(lvl))
		for _, c := range conns {
			if !c.TrySend(msg) {
				r.log.Info("registry.notify.drop", "user_id", userID, "conn_id", c.ID, "canvas_id", canvasID)
			}
		}
	}

	r.log.Info("registry.refresh", "user_id", userID, "affected", len(affected), "conns", len(conns))
	return nil
}
