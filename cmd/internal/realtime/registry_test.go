package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"easel/cmd/internal/auth/session"
)

func testClaims(t *testing.T, userID string, perms map[string]session.Level) session.Claims {
	t.Helper()
	c, err := session.Spec{
		UserID:            userID,
		Email:             userID + "@example.com",
		HardExpiry:        time.Now().Add(time.Hour),
		CanvasPermissions: perms,
	}.Build()
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	return c
}

func recvJSON(t *testing.T, conn *Conn, into any) {
	t.Helper()
	select {
	case msg := <-conn.Send:
		if err := json.Unmarshal(msg, into); err != nil {
			t.Fatalf("unmarshal %q: %v", msg, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message on send queue")
	}
}

func TestRegistry_AttachKeepsFirstClaims(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	first := testClaims(t, "u1", map[string]session.Level{"c1": session.LevelWriter})
	stale := testClaims(t, "u1", map[string]session.Level{"c1": session.LevelViewer})

	a := NewConn("u1", 8)
	b := NewConn("u1", 8)
	r.Attach("u1", first, a)
	r.Attach("u1", stale, b)

	if got := r.PermissionLevel("u1", "c1"); got != session.LevelWriter {
		t.Fatalf("second attach overwrote claims: level = %q", got)
	}
	if len(r.Connections("u1")) != 2 {
		t.Fatalf("expected two live connections")
	}
}

func TestRegistry_DetachEvictsEmptyEntry(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	c := NewConn("u1", 8)
	r.Attach("u1", testClaims(t, "u1", nil), c)
	r.Detach("u1", c)

	if _, ok := r.Claims("u1"); ok {
		t.Fatalf("entry survived last detach")
	}
	if got := r.PermissionLevel("u1", "c1"); got != session.LevelNone {
		t.Fatalf("evicted user level = %q", got)
	}
}

func TestRegistry_UpdateClaimsForAbsentUserIsNoop(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	if r.UpdateClaims("ghost", testClaims(t, "ghost", nil)) {
		t.Fatalf("update for absent user reported live entry")
	}
}

func TestRegistry_RefreshPermissionsNotifiesAffectedCanvases(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	old := testClaims(t, "u1", map[string]session.Level{
		"kept":    session.LevelWriter,
		"changed": session.LevelWriter,
		"revoked": session.LevelViewer,
	})
	conn := NewConn("u1", 8)
	r.Attach("u1", old, conn)

	fresh := testClaims(t, "u1", map[string]session.Level{
		"kept":    session.LevelWriter,
		"changed": session.LevelModerator,
	})

	err := r.RefreshPermissions(context.Background(), "u1", func(context.Context, session.Claims) (session.Claims, error) {
		return fresh, nil
	})
	if err != nil {
		t.Fatalf("RefreshPermissions: %v", err)
	}

	if got := r.PermissionLevel("u1", "changed"); got != session.LevelModerator {
		t.Fatalf("claims not swapped: %q", got)
	}

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		var n PermissionNotice
		recvJSON(t, conn, &n)
		seen[n.CanvasID] = n.YourPermission
	}
	if seen["changed"] != "M" {
		t.Fatalf("changed canvas notice = %q", seen["changed"])
	}
	if perm, ok := seen["revoked"]; !ok || perm != "" {
		t.Fatalf("revoked canvas notice = %q, ok=%v", perm, ok)
	}
	select {
	case msg := <-conn.Send:
		t.Fatalf("unexpected extra notice: %s", msg)
	default:
	}
}

func TestRegistry_RefreshPermissionsLookupFailure(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	conn := NewConn("u1", 8)
	r.Attach("u1", testClaims(t, "u1", map[string]session.Level{"c1": session.LevelWriter}), conn)

	wantErr := errors.New("lookup down")
	err := r.RefreshPermissions(context.Background(), "u1", func(context.Context, session.Claims) (session.Claims, error) {
		return session.Claims{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}

	// Old claims survive a failed refresh.
	if got := r.PermissionLevel("u1", "c1"); got != session.LevelWriter {
		t.Fatalf("level after failed refresh = %q", got)
	}
}

func TestRegistry_RefreshPermissionsAbsentUser(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))

	called := false
	err := r.RefreshPermissions(context.Background(), "ghost", func(context.Context, session.Claims) (session.Claims, error) {
		called = true
		return session.Claims{}, nil
	})
	if err != nil {
		t.Fatalf("RefreshPermissions: %v", err)
	}
	if called {
		t.Fatalf("lookup ran for a disconnected user")
	}
}
