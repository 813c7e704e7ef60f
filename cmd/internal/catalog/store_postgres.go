package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"easel/cmd/internal/auth/session"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "easel").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("catalog: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("catalog: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed catalog Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "easel",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("catalog: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Email == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, email, display_name, password_hash, created_at)
		 VALUES ($1, lower($2), $3, $4, $5)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt,
	)
	if pgIsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (User, error) {
	users := pgIdent(s.schema, "users")
	return s.scanUser(ctx,
		`SELECT id, email, display_name, password_hash, created_at
		   FROM `+users+` WHERE email = lower($1)`,
		email,
	)
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	users := pgIdent(s.schema, "users")
	return s.scanUser(ctx,
		`SELECT id, email, display_name, password_hash, created_at
		   FROM `+users+` WHERE id = $1`,
		id,
	)
}

func (s *PostgresStore) scanUser(ctx context.Context, query string, arg any) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var u User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET display_name = $2,
		        password_hash = CASE WHEN $3 = '' THEN password_hash ELSE $3 END
		  WHERE id = $1`,
		u.ID, u.DisplayName, u.PasswordHash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCanvas inserts the canvas row and the owner's creator grant in one
// transaction so a crash cannot leave an ownerless canvas behind.
func (s *PostgresStore) CreateCanvas(ctx context.Context, c Canvas) error {
	if c.ID == "" || c.Name == "" || c.OwnerID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	canvases := pgIdent(s.schema, "canvases")
	perms := pgIdent(s.schema, "canvas_permissions")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+canvases+` (id, name, log_path, moderated, owner_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.LogPath, c.Moderated, c.OwnerID, c.CreatedAt,
	); err != nil {
		if pgIsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+perms+` (canvas_id, user_id, level, updated_at)
		 VALUES ($1, $2, $3, now())`,
		c.ID, c.OwnerID, string(session.LevelCreator),
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Canvas(ctx context.Context, id string) (Canvas, error) {
	if err := ctx.Err(); err != nil {
		return Canvas{}, err
	}

	canvases := pgIdent(s.schema, "canvases")
	var c Canvas
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, log_path, moderated, owner_id, created_at
		   FROM `+canvases+` WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.LogPath, &c.Moderated, &c.OwnerID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Canvas{}, ErrNotFound
	}
	if err != nil {
		return Canvas{}, err
	}
	return c, nil
}

func (s *PostgresStore) CanvasesFor(ctx context.Context, userID string) ([]Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvases := pgIdent(s.schema, "canvases")
	perms := pgIdent(s.schema, "canvas_permissions")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, c.log_path, c.moderated, c.owner_id, c.created_at, p.level
		   FROM `+canvases+` c
		   JOIN `+perms+` p ON p.canvas_id = c.id
		  WHERE p.user_id = $1
		  ORDER BY c.name ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		var code string
		if err := rows.Scan(
			&g.Canvas.ID, &g.Canvas.Name, &g.Canvas.LogPath, &g.Canvas.Moderated,
			&g.Canvas.OwnerID, &g.Canvas.CreatedAt, &code,
		); err != nil {
			return nil, err
		}
		lvl, ok := session.ParseLevel(code)
		if !ok {
			continue
		}
		g.Level = lvl
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetModerated(ctx context.Context, canvasID string, moderated bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	canvases := pgIdent(s.schema, "canvases")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+canvases+` SET moderated = $2 WHERE id = $1`,
		canvasID, moderated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPermission(ctx context.Context, canvasID, userID string, lvl session.Level) error {
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

	perms := pgIdent(s.schema, "canvas_permissions")

	if lvl == session.LevelNone {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM `+perms+` WHERE canvas_id = $1 AND user_id = $2`,
			canvasID, userID,
		)
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+perms+` (canvas_id, user_id, level, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (canvas_id, user_id)
		 DO UPDATE SET level = EXCLUDED.level, updated_at = now()`,
		canvasID, userID, string(lvl),
	)
	if pgIsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) PermissionFor(ctx context.Context, canvasID, userID string) (session.Level, error) {
	if err := ctx.Err(); err != nil {
		return session.LevelNone, err
	}

	perms := pgIdent(s.schema, "canvas_permissions")
	var code string
	err := s.pool.QueryRow(ctx,
		`SELECT level FROM `+perms+` WHERE canvas_id = $1 AND user_id = $2`,
		canvasID, userID,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.LevelNone, nil
	}
	if err != nil {
		return session.LevelNone, err
	}
	lvl, ok := session.ParseLevel(code)
	if !ok {
		return session.LevelNone, fmt.Errorf("catalog: corrupt permission code %q", code)
	}
	return lvl, nil
}

// UserGrants returns the display name and full permission map for a user,
// resolving by id with an email fallback when the id is unknown.
// It implements session.ClaimsSource.
func (s *PostgresStore) UserGrants(ctx context.Context, userID, email string) (string, map[string]session.Level, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	users := pgIdent(s.schema, "users")
	perms := pgIdent(s.schema, "canvas_permissions")

	var displayName string
	err := s.pool.QueryRow(ctx,
		`SELECT display_name FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&displayName)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx,
			`SELECT id, display_name FROM `+users+` WHERE email = lower($1)`,
			email,
		).Scan(&userID, &displayName)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNotFound
		}
	}
	if err != nil {
		return "", nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT canvas_id, level FROM `+perms+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	grants := make(map[string]session.Level)
	for rows.Next() {
		var canvasID, code string
		if err := rows.Scan(&canvasID, &code); err != nil {
			return "", nil, err
		}
		lvl, ok := session.ParseLevel(code)
		if !ok {
			continue
		}
		grants[canvasID] = lvl
	}
	return displayName, grants, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
