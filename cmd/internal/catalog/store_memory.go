package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"easel/cmd/internal/auth/session"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It keeps the same semantics as the Postgres store, including email
// uniqueness and grant deletion on LevelNone.
type InMemoryStore struct {
	mu       sync.Mutex
	users    map[string]User   // id -> user
	byEmail  map[string]string // lowercased email -> id
	canvases map[string]Canvas
	grants   map[string]map[string]session.Level // canvas id -> user id -> level
}

// NewInMemoryStore constructs an empty in-memory catalog.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		byEmail:  make(map[string]string),
		canvases: make(map[string]Canvas),
		grants:   make(map[string]map[string]session.Level),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// CreateUser inserts a user, enforcing email uniqueness.
func (s *InMemoryStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Email == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	key := strings.ToLower(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byEmail[key]; ok {
		return ErrConflict
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	return nil
}

// UserByEmail looks a user up by email, case-insensitively.
func (s *InMemoryStore) UserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

// UserByID looks a user up by id.
func (s *InMemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// UpdateUser replaces the mutable fields of an existing user.
func (s *InMemoryStore) UpdateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	cur.DisplayName = u.DisplayName
	if u.PasswordHash != "" {
		cur.PasswordHash = u.PasswordHash
	}
	s.users[u.ID] = cur
	return nil
}

// CreateCanvas inserts a canvas and grants its owner the creator level.
func (s *InMemoryStore) CreateCanvas(ctx context.Context, c Canvas) error {
	if c.ID == "" || c.Name == "" || c.OwnerID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canvases[c.ID]; ok {
		return ErrConflict
	}
	s.canvases[c.ID] = c
	s.grants[c.ID] = map[string]session.Level{c.OwnerID: session.LevelCreator}
	return nil
}

// Canvas returns the stored canvas metadata.
func (s *InMemoryStore) Canvas(ctx context.Context, id string) (Canvas, error) {
	if err := ctx.Err(); err != nil {
		return Canvas{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.canvases[id]
	if !ok {
		return Canvas{}, ErrNotFound
	}
	return c, nil
}

// CanvasesFor lists canvases userID can access, ordered by canvas name.
func (s *InMemoryStore) CanvasesFor(ctx context.Context, userID string) ([]Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Grant
	for canvasID, byUser := range s.grants {
		lvl, ok := byUser[userID]
		if !ok {
			continue
		}
		out = append(out, Grant{Canvas: s.canvases[canvasID], Level: lvl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Canvas.Name < out[j].Canvas.Name })
	return out, nil
}

// SetModerated flips the moderation flag on a canvas.
func (s *InMemoryStore) SetModerated(ctx context.Context, canvasID string, moderated bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.canvases[canvasID]
	if !ok {
		return ErrNotFound
	}
	c.Moderated = moderated
	s.canvases[canvasID] = c
	return nil
}

// SetPermission upserts one grant. LevelNone deletes the grant row.
func (s *InMemoryStore) SetPermission(ctx context.Context, canvasID, userID string, lvl session.Level) error {
	if canvasID == "" || userID == "" {
		return ErrInvalidInput
	}
	if lvl != session.LevelNone {
		if _, ok := session.ParseLevel(string(lvl)); !ok {
			return ErrInvalidInput
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canvases[canvasID]; !ok {
		return ErrNotFound
	}
	byUser := s.grants[canvasID]
	if byUser == nil {
		byUser = make(map[string]session.Level)
		s.grants[canvasID] = byUser
	}
	if lvl == session.LevelNone {
		delete(byUser, userID)
		return nil
	}
	byUser[userID] = lvl
	return nil
}

// PermissionFor returns the level userID holds on canvasID, LevelNone when
// no grant exists.
func (s *InMemoryStore) PermissionFor(ctx context.Context, canvasID, userID string) (session.Level, error) {
	if err := ctx.Err(); err != nil {
		return session.LevelNone, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.grants[canvasID][userID], nil
}

// UserGrants returns the display name and full permission map for a user,
// resolving by id with an email fallback when the id is unknown.
// It implements session.ClaimsSource.
func (s *InMemoryStore) UserGrants(ctx context.Context, userID, email string) (string, map[string]session.Level, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		id, byEmail := s.byEmail[strings.ToLower(email)]
		if !byEmail {
			return "", nil, ErrNotFound
		}
		u = s.users[id]
	}

	grants := make(map[string]session.Level)
	for canvasID, byUser := range s.grants {
		if lvl, ok := byUser[u.ID]; ok {
			grants[canvasID] = lvl
		}
	}
	return u.DisplayName, grants, nil
}
