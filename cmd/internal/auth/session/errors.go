package session

import "errors"

var (
	// ErrInvalidToken is returned when a credential token fails decoding or
	// signature verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrAuthExpired is returned when the hard expiry has passed.
	// The caller must re-authenticate from scratch.
	ErrAuthExpired = errors.New("auth expired")

	// ErrRefreshFailed is returned when a required claims refresh could not
	// complete (user missing from the source of truth, or a storage error).
	// The gate treats this as a reject.
	ErrRefreshFailed = errors.New("claims refresh failed")

	// ErrInvalidClaims is returned when a Spec is missing required fields.
	ErrInvalidClaims = errors.New("invalid claims")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
