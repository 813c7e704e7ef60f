package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"easel/cmd/internal/auth/session"
	"easel/cmd/internal/catalog"
	"easel/cmd/internal/invite"
	"easel/cmd/internal/realtime"
	"easel/cmd/security/password"
)

type apiFixture struct {
	t     *testing.T
	srv   *httptest.Server
	store *catalog.InMemoryStore
	reg   *realtime.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	sessCfg := session.DefaultConfig()
	sessCfg.SecretKey = "0123456789abcdef0123456789abcdef"

	store := catalog.NewInMemoryStore()
	ledger := session.NewLedger()
	reg := realtime.NewRegistry(log)
	gate := session.NewGate(sessCfg, log, ledger, store, reg)
	codec, err := session.NewTokenCodec(sessCfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	pwCfg := password.DefaultConfig()
	pwCfg.Params.MemoryKiB = 8 * 1024 // keep tests fast
	pwCfg.Params.Iterations = 1

	invSvc, err := invite.NewService(invite.NewInMemoryStore())
	if err != nil {
		t.Fatalf("invite service: %v", err)
	}

	cfg := Config{
		DataDir:          t.TempDir(),
		MaxBodyBytes:     1 << 20,
		LoginIPMax:       20,
		LoginIPWindow:    5 * time.Minute,
		InviteTTL:        24 * time.Hour,
		InviteMaxTTL:     7 * 24 * time.Hour,
		InviteMaxUses:    1,
		InviteMaxUsesMax: 10,
	}

	h, err := NewHandler(log, cfg, sessCfg, store, gate, codec, pwCfg, invSvc, reg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{t: t, srv: srv, store: store, reg: reg}
}

// newClient returns an HTTP client with its own cookie jar, standing in for
// one browser session.
func (f *apiFixture) newClient() *http.Client {
	f.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		f.t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (f *apiFixture) do(c *http.Client, method, path string, body any) (*http.Response, []byte) {
	f.t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		f.t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (f *apiFixture) mustRegister(c *http.Client, email, pw, name string) userResponse {
	f.t.Helper()
	resp, body := f.do(c, http.MethodPost, "/auth/register", registerRequest{
		Email: email, Password: pw, DisplayName: name,
	})
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("register %s: status %d: %s", email, resp.StatusCode, body)
	}
	var out meResponse
	if err := json.Unmarshal(body, &out); err != nil {
		f.t.Fatalf("decode register response: %v", err)
	}
	return out.User
}

const testPassword = "correct-horse-battery"

func TestRegisterLoginMe(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	c := f.newClient()

	u := f.mustRegister(c, "ada@example.com", testPassword, "Ada")
	if u.ID == "" || u.Email != "ada@example.com" || u.DisplayName != "Ada" {
		t.Fatalf("unexpected user: %+v", u)
	}

	// Cookie from registration authenticates /api/me.
	resp, body := f.do(c, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d: %s", resp.StatusCode, body)
	}
	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, me.User.ID)
	}

	// Fresh client: wrong password rejected, right password accepted.
	c2 := f.newClient()
	resp, _ = f.do(c2, http.MethodPost, "/auth/login", loginRequest{Email: "ada@example.com", Password: "wrong-password-here"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp, _ = f.do(c2, http.MethodPost, "/auth/login", loginRequest{Email: "ada@example.com", Password: testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	resp, _ = f.do(c2, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me after login: status %d", resp.StatusCode)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	c := f.newClient()

	f.mustRegister(c, "dup@example.com", testPassword, "First")

	resp, _ := f.do(f.newClient(), http.MethodPost, "/auth/register", registerRequest{
		Email: "DUP@example.com", Password: testPassword, DisplayName: "Second",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp, _ := f.do(f.newClient(), http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLogout_ClearsSession(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	c := f.newClient()

	f.mustRegister(c, "bye@example.com", testPassword, "Bye")

	resp, _ := f.do(c, http.MethodPost, "/auth/logout", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
	resp, _ = f.do(c, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestCanvasCreateAndList(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	c := f.newClient()

	f.mustRegister(c, "owner@example.com", testPassword, "Owner")

	resp, body := f.do(c, http.MethodPost, "/api/canvases", canvasCreateRequest{Name: "sketchpad"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create canvas: status %d: %s", resp.StatusCode, body)
	}
	var created canvasResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode canvas: %v", err)
	}
	if created.ID == "" || created.Name != "sketchpad" {
		t.Fatalf("unexpected canvas: %+v", created)
	}
	if created.YourPermission != string(session.LevelCreator) {
		t.Fatalf("expected creator permission, got %q", created.YourPermission)
	}

	resp, body = f.do(c, http.MethodGet, "/api/canvases", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list canvases: status %d", resp.StatusCode)
	}
	var list canvasListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Canvases) != 1 || list.Canvases[0].ID != created.ID {
		t.Fatalf("unexpected canvas list: %+v", list.Canvases)
	}

	// The refreshed cookie carries the new grant.
	resp, body = f.do(c, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d: %s", resp.StatusCode, body)
	}
}

func TestPermissionChange(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	owner := f.newClient()
	f.mustRegister(owner, "alice@example.com", testPassword, "Alice")

	guest := f.newClient()
	guestUser := f.mustRegister(guest, "bob@example.com", testPassword, "Bob")

	_, body := f.do(owner, http.MethodPost, "/api/canvases", canvasCreateRequest{Name: "shared"})
	var canvas canvasResponse
	if err := json.Unmarshal(body, &canvas); err != nil {
		t.Fatalf("decode canvas: %v", err)
	}

	// Guest has no grant yet and cannot grant permissions.
	resp, _ := f.do(guest, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "alice@example.com", Level: "V",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-moderator, got %d", resp.StatusCode)
	}

	// Owner grants Writer to guest.
	resp, body = f.do(owner, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "bob@example.com", Level: "W",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: status %d: %s", resp.StatusCode, body)
	}

	lvl, err := f.store.PermissionFor(t.Context(), canvas.ID, guestUser.ID)
	if err != nil {
		t.Fatalf("permission lookup: %v", err)
	}
	if lvl != session.LevelWriter {
		t.Fatalf("expected W grant, got %q", lvl)
	}

	// Guest sees the canvas on next contact (ledger forced a refresh).
	resp, body = f.do(guest, http.MethodGet, "/api/canvases", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest list: status %d", resp.StatusCode)
	}
	var list canvasListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Canvases) != 1 || list.Canvases[0].YourPermission != "W" {
		t.Fatalf("unexpected guest canvases: %+v", list.Canvases)
	}

	// Revoke with empty level deletes the grant.
	resp, _ = f.do(owner, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "bob@example.com", Level: "",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
	lvl, err = f.store.PermissionFor(t.Context(), canvas.ID, guestUser.ID)
	if err != nil {
		t.Fatalf("permission lookup: %v", err)
	}
	if lvl != session.LevelNone {
		t.Fatalf("expected revoked grant, got %q", lvl)
	}
}

func TestPermissionChange_Guards(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	owner := f.newClient()
	f.mustRegister(owner, "own@example.com", testPassword, "Own")
	f.mustRegister(f.newClient(), "peer@example.com", testPassword, "Peer")

	_, body := f.do(owner, http.MethodPost, "/api/canvases", canvasCreateRequest{Name: "guarded"})
	var canvas canvasResponse
	if err := json.Unmarshal(body, &canvas); err != nil {
		t.Fatalf("decode canvas: %v", err)
	}

	// Owner/Creator levels cannot be granted.
	resp, _ := f.do(owner, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "peer@example.com", Level: "O",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for owner grant, got %d", resp.StatusCode)
	}

	// Self-change is rejected.
	resp, _ = f.do(owner, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "own@example.com", Level: "V",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for self change, got %d", resp.StatusCode)
	}

	// Unknown target user.
	resp, _ = f.do(owner, http.MethodPost, "/api/canvases/permissions", permissionRequest{
		CanvasID: canvas.ID, Email: "ghost@example.com", Level: "V",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

func TestInviteFlow(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	owner := f.newClient()
	f.mustRegister(owner, "host@example.com", testPassword, "Host")

	guest := f.newClient()
	guestUser := f.mustRegister(guest, "guest@example.com", testPassword, "Guest")

	_, body := f.do(owner, http.MethodPost, "/api/canvases", canvasCreateRequest{Name: "invited"})
	var canvas canvasResponse
	if err := json.Unmarshal(body, &canvas); err != nil {
		t.Fatalf("decode canvas: %v", err)
	}

	// Guest cannot mint invites for a canvas they have no grant on.
	resp, _ := f.do(guest, http.MethodPost, "/api/canvases/invites", inviteCreateRequest{CanvasID: canvas.ID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-moderator invite, got %d", resp.StatusCode)
	}

	resp, body = f.do(owner, http.MethodPost, "/api/canvases/invites", inviteCreateRequest{
		CanvasID: canvas.ID, Level: "M",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invite create: status %d: %s", resp.StatusCode, body)
	}
	var created inviteCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode invite: %v", err)
	}
	if created.InviteToken == "" || created.Level != "M" {
		t.Fatalf("unexpected invite: %+v", created)
	}

	resp, body = f.do(guest, http.MethodPost, "/api/invites/consume", inviteConsumeRequest{InviteToken: created.InviteToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invite consume: status %d: %s", resp.StatusCode, body)
	}
	var consumed inviteConsumeResponse
	if err := json.Unmarshal(body, &consumed); err != nil {
		t.Fatalf("decode consume: %v", err)
	}
	if consumed.CanvasID != canvas.ID || consumed.Level != "M" {
		t.Fatalf("unexpected consume result: %+v", consumed)
	}

	lvl, err := f.store.PermissionFor(t.Context(), canvas.ID, guestUser.ID)
	if err != nil {
		t.Fatalf("permission lookup: %v", err)
	}
	if lvl != session.LevelModerator {
		t.Fatalf("expected M grant after consume, got %q", lvl)
	}

	// Single-use invite is spent.
	other := f.newClient()
	f.mustRegister(other, "late@example.com", testPassword, "Late")
	resp, _ = f.do(other, http.MethodPost, "/api/invites/consume", inviteConsumeRequest{InviteToken: created.InviteToken})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for spent invite, got %d", resp.StatusCode)
	}
}

func TestProfileUpdate(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	c := f.newClient()

	f.mustRegister(c, "old@example.com", testPassword, "Old Name")

	newName := "New Name"
	resp, body := f.do(c, http.MethodPost, "/api/profile", profileRequest{DisplayName: &newName})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile: status %d: %s", resp.StatusCode, body)
	}

	resp, body = f.do(c, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.DisplayName != newName {
		t.Fatalf("expected updated display name, got %q", me.User.DisplayName)
	}

	// Email conflicts with an existing account are rejected.
	f.mustRegister(f.newClient(), "taken@example.com", testPassword, "Taken")
	taken := "taken@example.com"
	resp, _ = f.do(c, http.MethodPost, "/api/profile", profileRequest{Email: &taken})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for taken email, got %d", resp.StatusCode)
	}
}
