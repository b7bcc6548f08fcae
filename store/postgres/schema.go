package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables and indexes this package queries. The
// users table is owned by the host application; only the columns this
// core reads and writes are declared here.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			token_version BIGINT NOT NULL DEFAULT 0,
			email_verified_at TIMESTAMPTZ,
			rules TEXT[] NOT NULL DEFAULT '{}'
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			secret_hash BYTEA NOT NULL,
			device_hash BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			replaced_by_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS refresh_tokens_user_id_idx ON refresh_tokens(user_id) WHERE NOT revoked`,
		`
		CREATE TABLE IF NOT EXISTS trusted_devices (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			device_hash BYTEA NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, device_hash)
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS blacklisted_devices (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			device_hash BYTEA NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, device_hash)
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS account_blocks (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			until_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			actor TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS account_blocks_user_idx ON account_blocks(user_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS account_blocks_email_idx ON account_blocks(email) WHERE status = 'active'`,
		`
		CREATE TABLE IF NOT EXISTS account_block_log (
			id BIGSERIAL PRIMARY KEY,
			block_id UUID NOT NULL,
			event TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		)
		`,
	}

	for _, query := range queries {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
