// Package catalog is the source of truth for users, canvases, and canvas
// permissions. The realtime layer and the session gate both read from it;
// everything cached elsewhere (claims, loaded hub state) is derived.
package catalog

import (
	"context"
	"time"

	"easel/cmd/internal/auth/session"
)

// User is a registered account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Canvas is the stored metadata of one collaborative canvas. The event
// history itself lives in an append-only log file at LogPath, not here.
type Canvas struct {
	ID        string
	Name      string
	LogPath   string
	Moderated bool
	OwnerID   string
	CreatedAt time.Time
}

// Grant pairs a canvas with the level one user holds on it.
type Grant struct {
	Canvas Canvas
	Level  session.Level
}

// Store is the persistence boundary for the catalog.
//
// Requirements:
//   - Email uniqueness for users (ErrConflict on violation)
//   - SetPermission with LevelNone deletes the grant row
//   - UserGrants returns the full permission map in one call so the
//     session gate can rebuild claims atomically
type Store interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, u User) error

	CreateCanvas(ctx context.Context, c Canvas) error
	Canvas(ctx context.Context, id string) (Canvas, error)
	CanvasesFor(ctx context.Context, userID string) ([]Grant, error)
	SetModerated(ctx context.Context, canvasID string, moderated bool) error

	SetPermission(ctx context.Context, canvasID, userID string, lvl session.Level) error
	PermissionFor(ctx context.Context, canvasID, userID string) (session.Level, error)

	// UserGrants implements session.ClaimsSource.
	UserGrants(ctx context.Context, userID, email string) (string, map[string]session.Level, error)

	Close() error
}
