package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"easel/cmd/internal/auth/session"
	"easel/cmd/internal/catalog"
	"easel/cmd/internal/ids"
	"easel/cmd/internal/invite"
	"easel/cmd/internal/realtime"
	"easel/cmd/security/password"
)

// Handler wires the HTTP auth and canvas management endpoints to the
// catalog, the session gate, and the live connection registry.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	sessCfg session.Config

	store     catalog.Store
	gate      *session.Gate
	codec     *session.TokenCodec
	passwords password.Config
	invites   *invite.Service
	registry  *realtime.Registry

	throttle  *loginThrottle
	dummyHash string
}

// NewHandler constructs the API handler. DataDir is created if missing.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	sessCfg session.Config,
	store catalog.Store,
	gate *session.Gate,
	codec *session.TokenCodec,
	passwords password.Config,
	invites *invite.Service,
	registry *realtime.Registry,
) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil || gate == nil || codec == nil || invites == nil || registry == nil {
		return nil, errors.New("api: missing dependency")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		sessCfg:   sessCfg,
		store:     store,
		gate:      gate,
		codec:     codec,
		passwords: passwords,
		invites:   invites,
		registry:  registry,
		throttle:  newLoginThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/me", h.RequireSession(h.handleMe))
	mux.HandleFunc("/api/profile", h.RequireSession(h.handleProfile))
	mux.HandleFunc("/api/canvases", h.RequireSession(h.handleCanvases))
	mux.HandleFunc("/api/canvases/permissions", h.RequireSession(h.handlePermissionChange))
	mux.HandleFunc("/api/canvases/invites", h.RequireSession(h.handleInviteCreate))
	mux.HandleFunc("/api/invites/consume", h.RequireSession(h.handleInviteConsume))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		default:
			h.log.Error("api.register.hash.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	userID, err := ids.NewULID(now)
	if err != nil {
		h.log.Error("api.register.ulid.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	u := catalog.User{
		ID:           userID,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := h.store.CreateUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, catalog.ErrConflict):
			writeError(w, http.StatusConflict, "conflict", "email already registered")
		case errors.Is(err, catalog.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("api.register.create_user.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	if err := h.issueCookie(w, now, u.ID, u.Email, u.DisplayName, nil); err != nil {
		h.log.Error("api.register.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.register.ok", "user_id", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ipKey := ""
	if ip != nil {
		ipKey = ip.String()
	}

	if blocked, retryAfter := h.throttle.Blocked(ipKey, now); blocked {
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.store.UserByEmail(ctx, email)
	if err != nil {
		// Timing resistance: run a dummy verify when the user is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		}
		h.throttle.RecordFailure(ipKey, now)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := h.passwords.Verify(u.PasswordHash, req.Password)
	if err != nil || !okPw {
		h.throttle.RecordFailure(ipKey, now)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	_, grants, err := h.store.UserGrants(ctx, u.ID, u.Email)
	if err != nil {
		h.log.Error("api.login.grants.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.issueCookie(w, now, u.ID, u.Email, u.DisplayName, grants); err != nil {
		h.log.Error("api.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.login.ok", "user_id", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	u, err := h.store.UserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			session.ClearCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("api.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.Email == nil && req.DisplayName == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "nothing to update")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, err := h.store.UserByID(ctx, claims.UserID)
	if err != nil {
		h.log.Error("api.profile.load.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if email == "" || !strings.Contains(email, "@") {
			writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
			return
		}
		u.Email = email
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "display name cannot be empty")
			return
		}
		u.DisplayName = name
	}

	if err := h.store.UpdateUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, catalog.ErrConflict):
			writeError(w, http.StatusConflict, "conflict", "email already registered")
		default:
			h.log.Error("api.profile.update.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	// Re-issue claims with the new identity, keeping the hard expiry of the
	// current session. Live connections see the update immediately.
	fresh, err := session.Spec{
		UserID:            u.ID,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		HardExpiry:        claims.HardExpiry,
		ReissueAt:         now.Add(h.sessCfg.ReissueWindow),
		CanvasPermissions: claims.CanvasPermissions,
	}.Build()
	if err != nil {
		h.log.Error("api.profile.claims.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.registry.UpdateClaims(u.ID, fresh)

	tok, err := h.codec.Issue(fresh)
	if err != nil {
		h.log.Error("api.profile.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	session.WriteCookie(w, tok, fresh.HardExpiry)

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleCanvases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleCanvasList(w, r)
	case http.MethodPost:
		h.handleCanvasCreate(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCanvasList(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	grants, err := h.store.CanvasesFor(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("api.canvases.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := canvasListResponse{Canvases: make([]canvasResponse, 0, len(grants))}
	for _, g := range grants {
		out.Canvases = append(out.Canvases, toCanvasResponse(g.Canvas, g.Level))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCanvasCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req canvasCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	canvasID, err := ids.NewULID(now)
	if err != nil {
		h.log.Error("api.canvases.create.ulid.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	c := catalog.Canvas{
		ID:        canvasID,
		Name:      name,
		LogPath:   filepath.Join(h.cfg.DataDir, canvasID+".ndjson"),
		OwnerID:   claims.UserID,
		CreatedAt: now,
	}
	if err := h.store.CreateCanvas(ctx, c); err != nil {
		h.log.Error("api.canvases.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// The event log is created lazily on first append; touching it up front
	// just makes the file visible for operators. Failure is not fatal.
	if f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		h.log.Warn("api.canvases.create.touch_log.fail", "err", err, "path", c.LogPath)
	} else {
		_ = f.Close()
	}

	h.refreshCallerClaims(ctx, w, now, claims)

	h.log.Info("api.canvases.create.ok", "canvas_id", c.ID, "user_id", claims.UserID)
	writeJSON(w, http.StatusOK, toCanvasResponse(c, session.LevelCreator))
}

func (h *Handler) handlePermissionChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req permissionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	canvasID := strings.TrimSpace(req.CanvasID)
	email := normalizeEmail(req.Email)
	if canvasID == "" || email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "canvas_id and email are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	callerLvl, err := h.store.PermissionFor(ctx, canvasID, claims.UserID)
	if err != nil {
		h.log.Error("api.permissions.caller.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !callerLvl.CanModerate() {
		writeError(w, http.StatusForbidden, "forbidden", "moderator level required")
		return
	}

	target, err := h.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such user")
			return
		}
		h.log.Error("api.permissions.target.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if target.ID == claims.UserID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot change your own permission")
		return
	}

	existing, err := h.store.PermissionFor(ctx, canvasID, target.ID)
	if err != nil {
		h.log.Error("api.permissions.existing.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if existing.Immutable() {
		writeError(w, http.StatusForbidden, "immutable_target", "owner and creator levels cannot be changed")
		return
	}

	lvl := session.LevelNone
	if v := strings.TrimSpace(req.Level); v != "" && !strings.EqualFold(v, "none") {
		parsed, ok := session.ParseLevel(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown permission level")
			return
		}
		if parsed.Immutable() {
			writeError(w, http.StatusBadRequest, "invalid_request", "owner and creator levels cannot be granted")
			return
		}
		if !callerLvl.AtLeast(parsed) {
			writeError(w, http.StatusForbidden, "forbidden", "cannot grant a level above your own")
			return
		}
		lvl = parsed
	}

	if err := h.store.SetPermission(ctx, canvasID, target.ID, lvl); err != nil {
		h.log.Error("api.permissions.set.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.gate.Ledger().Mark(target.ID, now)
	if err := h.registry.RefreshPermissions(ctx, target.ID, h.refreshFunc()); err != nil {
		h.log.Error("api.permissions.live_refresh.fail", "err", err, "user_id", target.ID)
	}

	h.log.Info("api.permissions.ok",
		"canvas_id", canvasID, "target", target.ID, "level", string(lvl), "by", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req inviteCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	canvasID := strings.TrimSpace(req.CanvasID)
	if canvasID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "canvas_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	callerLvl, err := h.store.PermissionFor(ctx, canvasID, claims.UserID)
	if err != nil {
		h.log.Error("api.invites.create.caller.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !callerLvl.CanModerate() {
		writeError(w, http.StatusForbidden, "forbidden", "moderator level required")
		return
	}

	lvl := session.LevelWriter
	if v := strings.TrimSpace(req.Level); v != "" {
		parsed, ok := session.ParseLevel(v)
		if !ok || parsed.Immutable() {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid invite level")
			return
		}
		lvl = parsed
	}

	ttl := h.cfg.InviteTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}
	maxUses := h.cfg.InviteMaxUses
	if req.MaxUses > 0 {
		maxUses = req.MaxUses
	}
	if maxUses > h.cfg.InviteMaxUsesMax {
		maxUses = h.cfg.InviteMaxUsesMax
	}

	inv, tok, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		CanvasID:  canvasID,
		Level:     lvl,
		CreatedBy: claims.UserID,
		TTL:       ttl,
		MaxUses:   maxUses,
		Now:       now,
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
			return
		}
		h.log.Error("api.invites.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.invites.create.ok", "invite_id", inv.ID, "canvas_id", canvasID, "by", claims.UserID)
	writeJSON(w, http.StatusOK, inviteCreateResponse{
		InviteID:    inv.ID,
		InviteToken: tok,
		CanvasID:    inv.CanvasID,
		Level:       string(inv.Level),
		ExpiresAt:   inv.ExpiresAt,
		MaxUses:     inv.MaxUses,
	})
}

func (h *Handler) handleInviteConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req inviteConsumeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.InviteToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "invite_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	inv, err := h.invites.ConsumeInvite(ctx, invite.ConsumeInput{
		Token:      req.InviteToken,
		ConsumedBy: claims.UserID,
		Now:        now,
	})
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrNotActive):
			writeError(w, http.StatusBadRequest, "invalid_invite", "invalid or expired invite")
		case errors.Is(err, invite.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("api.invites.consume.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	// An invite never downgrades an existing grant.
	effective := inv.Level
	existing, err := h.store.PermissionFor(ctx, inv.CanvasID, claims.UserID)
	if err != nil {
		h.log.Error("api.invites.consume.existing.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if existing.AtLeast(inv.Level) {
		effective = existing
	} else {
		if err := h.store.SetPermission(ctx, inv.CanvasID, claims.UserID, inv.Level); err != nil {
			h.log.Error("api.invites.consume.grant.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
	}

	h.gate.Ledger().Mark(claims.UserID, now)
	h.refreshCallerClaims(ctx, w, now, claims)

	h.log.Info("api.invites.consume.ok", "invite_id", inv.ID, "canvas_id", inv.CanvasID, "user_id", claims.UserID)
	writeJSON(w, http.StatusOK, inviteConsumeResponse{
		CanvasID: inv.CanvasID,
		Level:    string(effective),
	})
}

// ---- helpers ----

func (h *Handler) issueCookie(w http.ResponseWriter, now time.Time, userID, email, displayName string, grants map[string]session.Level) error {
	claims, err := h.gate.Issue(now, userID, email, displayName, grants)
	if err != nil {
		return err
	}
	tok, err := h.codec.Issue(claims)
	if err != nil {
		return err
	}
	session.WriteCookie(w, tok, claims.HardExpiry)
	return nil
}

// refreshCallerClaims rebuilds the caller's claims from the catalog and sets
// a fresh cookie. On failure the pending-refresh mark stays so the next
// contact retries.
func (h *Handler) refreshCallerClaims(ctx context.Context, w http.ResponseWriter, now time.Time, old session.Claims) {
	fresh, err := h.gate.Refresh(ctx, now, old)
	if err != nil {
		h.gate.Ledger().Mark(old.UserID, now)
		h.log.Error("api.claims.refresh.fail", "err", err, "user_id", old.UserID)
		return
	}
	tok, err := h.codec.Issue(fresh)
	if err != nil {
		h.log.Error("api.claims.token.fail", "err", err)
		return
	}
	session.WriteCookie(w, tok, fresh.HardExpiry)
}

func (h *Handler) refreshFunc() realtime.RefreshFunc {
	return func(ctx context.Context, old session.Claims) (session.Claims, error) {
		return h.gate.Refresh(ctx, time.Now().UTC(), old)
	}
}

func toUserResponse(u catalog.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func toCanvasResponse(c catalog.Canvas, lvl session.Level) canvasResponse {
	return canvasResponse{
		ID:             c.ID,
		Name:           c.Name,
		Moderated:      c.Moderated,
		YourPermission: string(lvl),
		CreatedAt:      c.CreatedAt,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
