package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencehq/authcore/store"
)

// UserDirectory implements store.UserDirectory against the users table.
// It only touches the columns this core owns; general user administration
// is a separate service.
type UserDirectory struct {
	Pool *pgxpool.Pool
}

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{Pool: pool}
}

func (s *UserDirectory) GetByID(ctx context.Context, id string) (*store.User, error) {
	return s.get(ctx, `id = $1`, id)
}

func (s *UserDirectory) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.get(ctx, `lower(email) = lower($1)`, email)
}

func (s *UserDirectory) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *UserDirectory) SetEmailVerified(ctx context.Context, id string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE users SET email_verified_at = $2 WHERE id = $1 AND email_verified_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	// Already-verified is not an error; verification links may race.
	_ = tag
	return nil
}

func (s *UserDirectory) get(ctx context.Context, where string, arg any) (*store.User, error) {
	var u store.User
	err := s.Pool.QueryRow(ctx,
		`SELECT id, email, password_hash, token_version, email_verified_at, rules
		 FROM users WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TokenVersion, &u.EmailVerifiedAt, &u.Rules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &u, nil
}
