package invite

import "errors"

// Sentinel errors shared by the service and both store implementations.
var (
	ErrInvalidInput = errors.New("invite: invalid input")
	ErrNotFound     = errors.New("invite: not found")
	ErrNotActive    = errors.New("invite: not active")
)
