package token

import "errors"

// Errors callers may match on when building a Minter.
var (
	ErrHMACKeyMissing  = errors.New("token: HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token: HMAC key too short")
)
