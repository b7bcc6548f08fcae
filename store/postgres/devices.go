package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencehq/authcore/store"
)

// DeviceStore implements store.DeviceStore on the trusted_devices and
// blacklisted_devices tables. Both are unique on (user_id, device_hash)
// and soft-deleted via deleted_at.
type DeviceStore struct {
	Pool *pgxpool.Pool
}

func NewDeviceStore(pool *pgxpool.Pool) *DeviceStore {
	return &DeviceStore{Pool: pool}
}

func (s *DeviceStore) IsTrusted(ctx context.Context, userID string, deviceHash [32]byte) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM trusted_devices
		 WHERE user_id = $1 AND device_hash = $2 AND deleted_at IS NULL)`,
		userID, deviceHash[:])
}

func (s *DeviceStore) IsBlacklisted(ctx context.Context, userID string, deviceHash [32]byte) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM blacklisted_devices
		 WHERE user_id = $1 AND device_hash = $2 AND deleted_at IS NULL)`,
		userID, deviceHash[:])
}

func (s *DeviceStore) Approve(ctx context.Context, userID string, deviceHash [32]byte, seenAt time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO trusted_devices (user_id, device_hash, last_seen, created_at, deleted_at)
		 VALUES ($1, $2, $3, $3, NULL)
		 ON CONFLICT (user_id, device_hash)
		 DO UPDATE SET last_seen = $3, deleted_at = NULL`,
		userID, deviceHash[:], seenAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *DeviceStore) Reject(ctx context.Context, userID string, deviceHash [32]byte, reason string, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO blacklisted_devices (user_id, device_hash, reason, created_at, deleted_at)
		 VALUES ($1, $2, $3, $4, NULL)
		 ON CONFLICT (user_id, device_hash)
		 DO UPDATE SET reason = $3, deleted_at = NULL`,
		userID, deviceHash[:], reason, at,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *DeviceStore) TouchTrusted(ctx context.Context, userID string, deviceHash [32]byte, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE trusted_devices SET last_seen = $3
		 WHERE user_id = $1 AND device_hash = $2 AND deleted_at IS NULL`,
		userID, deviceHash[:], at,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *DeviceStore) PruneTrustedIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE trusted_devices SET deleted_at = NOW()
		 WHERE last_seen < $1 AND deleted_at IS NULL`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *DeviceStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.Pool.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return ok, nil
}
