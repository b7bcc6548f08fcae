package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencehq/authcore/store"
)

// SessionStore implements store.SessionStore. The users.token_version
// column and refresh_tokens rows are always updated inside one
// transaction so an issued access token can never observe a stale
// version alongside a live refresh row.
type SessionStore struct {
	Pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{Pool: pool}
}

func (s *SessionStore) IssueSession(ctx context.Context, tok store.RefreshToken) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`,
		tok.UserID,
	); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var version int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = $1 RETURNING token_version`,
		tok.UserID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if err := insertRefreshToken(ctx, tx, tok); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return version, nil
}

func (s *SessionStore) GetRefreshToken(ctx context.Context, id uuid.UUID) (*store.RefreshToken, error) {
	var (
		tok        store.RefreshToken
		secretHash []byte
		deviceHash []byte
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id, user_id, secret_hash, device_hash, expires_at, revoked, replaced_by_id, created_at
		 FROM refresh_tokens WHERE id = $1`,
		id,
	).Scan(&tok.ID, &tok.UserID, &secretHash, &deviceHash,
		&tok.ExpiresAt, &tok.Revoked, &tok.ReplacedByID, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	copy(tok.SecretHash[:], secretHash)
	copy(tok.DeviceHash[:], deviceHash)
	return &tok, nil
}

func (s *SessionStore) RotateRefreshToken(ctx context.Context, oldID uuid.UUID, successor store.RefreshToken) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	// The WHERE revoked=false guard is the race-safety mechanism:
	// exactly one of N concurrent rotations on the same id sees one
	// affected row, the rest lose and insert nothing.
	tag, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, replaced_by_id = $2
		 WHERE id = $1 AND revoked = false`,
		oldID, successor.ID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := insertRefreshToken(ctx, tx, successor); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return true, nil
}

func (s *SessionStore) RevokeToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE id = $1 AND revoked = false`,
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *SessionStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`,
		userID,
	); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var version int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = $1 RETURNING token_version`,
		userID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return version, nil
}

func (s *SessionStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE revoked = true AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func insertRefreshToken(ctx context.Context, tx pgx.Tx, tok store.RefreshToken) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, secret_hash, device_hash, expires_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)`,
		tok.ID, tok.UserID, tok.SecretHash[:], tok.DeviceHash[:], tok.ExpiresAt, tok.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}
