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

// BlockStore implements store.BlockStore. Current-state rows live in
// account_blocks; account_block_log is append-only and never mutated.
type BlockStore struct {
	Pool *pgxpool.Pool
}

func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{Pool: pool}
}

func (s *BlockStore) Insert(ctx context.Context, b store.AccountBlock) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO account_blocks (id, user_id, email, reason, until_at, status, actor, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		b.ID, b.UserID, b.Email, b.Reason, b.Until, b.Status, b.Actor, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *BlockStore) FindByID(ctx context.Context, id uuid.UUID) (*store.AccountBlock, error) {
	var b store.AccountBlock
	err := s.Pool.QueryRow(ctx,
		`SELECT id, user_id, email, reason, until_at, status, actor, created_at, updated_at
		 FROM account_blocks WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.UserID, &b.Email, &b.Reason, &b.Until,
		&b.Status, &b.Actor, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &b, nil
}

func (s *BlockStore) FindActiveByUser(ctx context.Context, userID string) (*store.AccountBlock, error) {
	return s.findActive(ctx, `user_id = $1`, userID)
}

func (s *BlockStore) FindActiveByEmail(ctx context.Context, email string) (*store.AccountBlock, error) {
	return s.findActive(ctx, `email = $1`, email)
}

func (s *BlockStore) Close(ctx context.Context, id uuid.UUID, status store.BlockStatus, at time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE account_blocks SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = 'active'`,
		id, status, at,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *BlockStore) FindDue(ctx context.Context, now time.Time) ([]store.AccountBlock, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, email, reason, until_at, status, actor, created_at, updated_at
		 FROM account_blocks
		 WHERE status = 'active' AND until_at IS NOT NULL AND until_at <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var due []store.AccountBlock
	for rows.Next() {
		var b store.AccountBlock
		if err := rows.Scan(&b.ID, &b.UserID, &b.Email, &b.Reason, &b.Until,
			&b.Status, &b.Actor, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		due = append(due, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return due, nil
}

func (s *BlockStore) AppendLog(ctx context.Context, e store.BlockLogEntry) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO account_block_log (block_id, event, user_id, email, reason, actor, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.BlockID, e.Event, e.UserID, e.Email, e.Reason, e.Actor, e.At,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *BlockStore) findActive(ctx context.Context, where string, arg any) (*store.AccountBlock, error) {
	var b store.AccountBlock
	err := s.Pool.QueryRow(ctx,
		`SELECT id, user_id, email, reason, until_at, status, actor, created_at, updated_at
		 FROM account_blocks WHERE status = 'active' AND `+where+
			` ORDER BY created_at DESC LIMIT 1`,
		arg,
	).Scan(&b.ID, &b.UserID, &b.Email, &b.Reason, &b.Until,
		&b.Status, &b.Actor, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &b, nil
}
