package session

import (
	"net/http"
	"time"
)

// CookieName is the cookie that carries the credential token.
const CookieName = "easel_session"

// ReadCookie extracts the raw credential token from a request.
func ReadCookie(r *http.Request) (string, bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// WriteCookie sets the credential cookie, expiring at the hard expiry.
func WriteCookie(w http.ResponseWriter, token string, hardExpiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  hardExpiry,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie invalidates the credential cookie (logout).
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
