package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the JWT wire shape of a Claims value.
//
// "exp" carries the hard expiry; "rat" (reissue-at) carries the soft expiry;
// "cnv" carries the canvas permission map. Unknown codes in "cnv" are dropped
// on decode rather than failing the whole token.
type tokenClaims struct {
	Email       string            `json:"email"`
	DisplayName string            `json:"name,omitempty"`
	ReissueAt   int64             `json:"rat"`
	Canvases    map[string]string `json:"cnv,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the opaque bearer credential carrying Claims.
type TokenCodec struct {
	issuer    string
	secret    []byte
	clockSkew time.Duration
}

// NewTokenCodec builds a codec from config. The secret must be present.
func NewTokenCodec(cfg Config) (*TokenCodec, error) {
	if len(cfg.SecretKey) < 32 {
		return nil, ErrConfig
	}
	return &TokenCodec{
		issuer:    cfg.Issuer,
		secret:    []byte(cfg.SecretKey),
		clockSkew: cfg.ClockSkew,
	}, nil
}

// Issue signs c into a compact token string.
func (t *TokenCodec) Issue(c Claims) (string, error) {
	if c.UserID == "" || c.HardExpiry.IsZero() {
		return "", ErrInvalidClaims
	}

	canvases := make(map[string]string, len(c.CanvasPermissions))
	for id, lvl := range c.CanvasPermissions {
		canvases[id] = string(lvl)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email:       c.Email,
		DisplayName: c.DisplayName,
		ReissueAt:   c.ReissueAt.Unix(),
		Canvases:    canvases,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   c.UserID,
			ExpiresAt: jwt.NewNumericDate(c.HardExpiry),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		},
	})
	return tok.SignedString(t.secret)
}

// Decode verifies the signature and issuer and rebuilds the Claims value.
// A token past its hard expiry yields ErrAuthExpired so callers can
// distinguish "log in again" from "tampered token".
func (t *TokenCodec) Decode(raw string) (Claims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(raw, &tc, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(t.clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrAuthExpired
		}
		return Claims{}, ErrInvalidToken
	}

	if tc.Subject == "" || tc.Email == "" || tc.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	perms := make(map[string]Level, len(tc.Canvases))
	for id, code := range tc.Canvases {
		lvl, ok := ParseLevel(code)
		if !ok {
			continue
		}
		perms[id] = lvl
	}

	return Spec{
		UserID:            tc.Subject,
		Email:             tc.Email,
		DisplayName:       tc.DisplayName,
		HardExpiry:        tc.ExpiresAt.Time,
		ReissueAt:         time.Unix(tc.ReissueAt, 0).UTC(),
		CanvasPermissions: perms,
	}.Build()
}
