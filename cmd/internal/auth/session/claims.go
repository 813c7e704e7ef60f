package session

import (
	"time"
)

// Level is a per-canvas permission code, ordered by capability.
type Level string

const (
	// LevelNone means no access. It is the zero value of a missing map key.
	LevelNone Level = ""
	// LevelViewer may watch a canvas but never draw.
	LevelViewer Level = "V"
	// LevelWriter may draw unless the canvas is moderated.
	LevelWriter Level = "W"
	// LevelModerator may draw regardless of moderation and toggle it.
	LevelModerator Level = "M"
	// LevelOwner has moderator rights; the level itself is immutable.
	LevelOwner Level = "O"
	// LevelCreator is the original creator; the level itself is immutable.
	LevelCreator Level = "C"
)

// ParseLevel validates a permission code. LevelNone is not a valid stored code.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelViewer, LevelWriter, LevelModerator, LevelOwner, LevelCreator:
		return Level(s), true
	}
	return LevelNone, false
}

func (l Level) rank() int {
	switch l {
	case LevelViewer:
		return 1
	case LevelWriter:
		return 2
	case LevelModerator:
		return 3
	case LevelOwner:
		return 4
	case LevelCreator:
		return 5
	}
	return 0
}

// AtLeast reports whether l grants at least the capability of other.
func (l Level) AtLeast(other Level) bool { return l.rank() >= other.rank() }

// CanDraw reports whether a holder of l may submit drawing events given the
// canvas moderation flag. Writers lose drawing rights while moderated.
func (l Level) CanDraw(moderated bool) bool {
	if !l.AtLeast(LevelWriter) {
		return false
	}
	if moderated {
		return l.AtLeast(LevelModerator)
	}
	return true
}

// CanModerate reports whether l may toggle moderation or change other
// users' permissions.
func (l Level) CanModerate() bool { return l.AtLeast(LevelModerator) }

// Immutable reports whether l may not be changed via the permission-change
// path. Ownership transfer is a separate concern.
func (l Level) Immutable() bool { return l == LevelOwner || l == LevelCreator }

// Claims is the authenticated session's identity, expiry, and authorization
// snapshot. Claims values are immutable: a refresh builds a whole new value
// and swaps it in, it never mutates an existing one in place.
type Claims struct {
	UserID      string
	Email       string
	DisplayName string

	// HardExpiry is the absolute point past which the session is invalid.
	HardExpiry time.Time
	// ReissueAt is the soft expiry: past it, cached permissions are
	// re-derived even though the session remains otherwise valid.
	// Invariant: ReissueAt never exceeds HardExpiry.
	ReissueAt time.Time

	// CanvasPermissions maps canvas id to permission level.
	// Absence of a canvas means no access.
	CanvasPermissions map[string]Level
}

// PermissionFor returns the level for a canvas, LevelNone when absent.
func (c Claims) PermissionFor(canvasID string) Level {
	return c.CanvasPermissions[canvasID]
}

// HardExpired reports whether the session is unconditionally invalid.
func (c Claims) HardExpired(now time.Time) bool {
	return !now.Before(c.HardExpiry)
}

// NeedsReissue reports whether the soft expiry has passed.
func (c Claims) NeedsReissue(now time.Time) bool {
	return !now.Before(c.ReissueAt)
}

// Spec enumerates every field of a Claims value under construction, making
// required versus defaulted semantics explicit at the call site.
//
// Required: UserID, Email, HardExpiry.
// Defaulted: DisplayName (kept empty when unknown), ReissueAt (clamped to
// HardExpiry), CanvasPermissions (nil becomes an empty map).
type Spec struct {
	UserID      string
	Email       string
	DisplayName string

	HardExpiry time.Time
	ReissueAt  time.Time

	CanvasPermissions map[string]Level
}

// Build materializes an immutable Claims value from a Spec.
// The permission map is copied so later mutation of the input cannot leak
// into the built value.
func (s Spec) Build() (Claims, error) {
	if s.UserID == "" || s.Email == "" {
		return Claims{}, ErrInvalidClaims
	}
	if s.HardExpiry.IsZero() {
		return Claims{}, ErrInvalidClaims
	}

	reissue := s.ReissueAt
	if reissue.IsZero() || reissue.After(s.HardExpiry) {
		reissue = s.HardExpiry
	}

	perms := make(map[string]Level, len(s.CanvasPermissions))
	for id, lvl := range s.CanvasPermissions {
		if _, ok := ParseLevel(string(lvl)); !ok {
			continue
		}
		perms[id] = lvl
	}

	return Claims{
		UserID:            s.UserID,
		Email:             s.Email,
		DisplayName:       s.DisplayName,
		HardExpiry:        s.HardExpiry,
		ReissueAt:         reissue,
		CanvasPermissions: perms,
	}, nil
}
