package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"easel/cmd/internal/auth/session"
)

type ctxKey int

const claimsKey ctxKey = 0

// ClaimsFrom returns the authenticated claims attached by RequireSession.
func ClaimsFrom(ctx context.Context) (session.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(session.Claims)
	return c, ok
}

// RequireSession authenticates the request from the session cookie, runs the
// freshness gate, and attaches the resolved claims to the request context.
// When the gate refreshed the claims, a new cookie is set on the response.
func (h *Handler) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := session.ReadCookie(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}

		claims, err := h.codec.Decode(raw)
		if err != nil {
			session.ClearCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
			return
		}

		out, err := h.gate.Authorize(r.Context(), time.Now().UTC(), claims)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrAuthExpired):
				session.ClearCookie(w)
				writeError(w, http.StatusUnauthorized, "session_expired", "session expired")
			case errors.Is(err, session.ErrRefreshFailed):
				session.ClearCookie(w)
				writeError(w, http.StatusUnauthorized, "unauthorized", "session no longer valid")
			default:
				h.log.Error("api.session.authorize.fail", "err", err)
				writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			}
			return
		}

		if out.Refreshed {
			if tok, err := h.codec.Issue(out.Claims); err == nil {
				session.WriteCookie(w, tok, out.Claims.HardExpiry)
			} else {
				h.log.Error("api.session.reissue.fail", "err", err)
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, out.Claims)))
	}
}
