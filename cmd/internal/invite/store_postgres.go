package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"easel/cmd/internal/auth/session"
)

// PostgresStore persists invites in PostgreSQL. The pool is owned by the
// caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "easel").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "easel"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const inviteColumns = `id, canvas_id, level, created_by, created_at, expires_at, max_uses, used_count, revoked_at, consumed_at, consumed_by`

func scanInvite(row pgx.Row) (Invite, error) {
	var (
		out  Invite
		code string
	)
	err := row.Scan(
		&out.ID,
		&out.CanvasID,
		&code,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	if err != nil {
		return Invite{}, err
	}
	out.Level = session.Level(code)
	return out, nil
}

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" ||
		strings.TrimSpace(in.CanvasID) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	invites := pgIdent(s.schema, "canvas_invites")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+invites+` (
		     id, token_hash, canvas_id, level, created_by, created_at, expires_at, max_uses, used_count
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)`,
		in.ID,
		in.TokenHash,
		in.CanvasID,
		string(in.Level),
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
		in.MaxUses,
	)
	if err != nil {
		return Invite{}, err
	}

	return Invite{
		ID:        in.ID,
		CanvasID:  in.CanvasID,
		Level:     in.Level,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
	}, nil
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	invites := pgIdent(s.schema, "canvas_invites")
	out, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+invites+` WHERE token_hash = $1`,
		tokenHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, err
	}
	return out, nil
}

// Consume increments used_count and marks last consumption. The guards in
// the WHERE clause make consumption atomic: an expired, revoked, or
// exhausted invite never increments.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	invites := pgIdent(s.schema, "canvas_invites")
	out, err := scanInvite(s.pool.QueryRow(ctx,
		`UPDATE `+invites+`
		    SET used_count = used_count + 1,
		        consumed_at = $1,
		        consumed_by = $2
		  WHERE token_hash = $3
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		in.Now,
		in.ConsumedBy,
		in.TokenHash,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, err
	}

	// Distinguish not-found vs not-active.
	_, selErr := s.GetByTokenHash(ctx, in.TokenHash)
	if selErr != nil {
		if errors.Is(selErr, ErrNotFound) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, selErr
	}
	return Invite{}, ErrNotActive
}

// Revoke stamps revoked_at on an active invite.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	invites := pgIdent(s.schema, "canvas_invites")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+invites+` SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
