// Package store defines the durable persistence contracts for the
// session-security core: refresh-token lineage, device trust lists,
// account blocks, and the external user directory.
//
// Implementations live in store/postgres (production) and
// store/storefakes (tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable wraps infrastructure failures from the durable backend.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// RefreshToken is one node in a user's refresh-token lineage. An ID
// authenticates at most once: rotation revokes the row and points
// ReplacedByID at its successor in the same transaction.
type RefreshToken struct {
	ID           uuid.UUID
	UserID       string
	SecretHash   [32]byte
	DeviceHash   [32]byte
	ExpiresAt    time.Time
	Revoked      bool
	ReplacedByID *uuid.UUID
	CreatedAt    time.Time
}

// SessionStore owns refresh-token rows and the per-user token version
// counter. Issue and RevokeAll must be atomic with the version bump.
type SessionStore interface {
	// IssueSession revokes every active refresh token for tok.UserID,
	// increments the user's token version, and inserts tok, all in one
	// transaction. It returns the new token version.
	IssueSession(ctx context.Context, tok RefreshToken) (int64, error)

	GetRefreshToken(ctx context.Context, id uuid.UUID) (*RefreshToken, error)

	// RotateRefreshToken revokes oldID and inserts successor in one
	// transaction. The revocation is conditional (revoked=false must
	// still hold); when a concurrent rotation already won, it returns
	// false and inserts nothing.
	RotateRefreshToken(ctx context.Context, oldID uuid.UUID, successor RefreshToken) (bool, error)

	// RevokeToken revokes a single refresh token without touching the
	// token version. Used by single-session logout.
	RevokeToken(ctx context.Context, id uuid.UUID) error

	// RevokeAll revokes every active refresh token for the user and
	// bumps the token version. Returns the new version.
	RevokeAll(ctx context.Context, userID string) (int64, error)

	// DeleteRevokedBefore removes revoked rows older than cutoff.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeviceStore persists the per-user device whitelist and blacklist.
// Rows are unique on (userID, deviceHash) and soft-deleted.
type DeviceStore interface {
	IsTrusted(ctx context.Context, userID string, deviceHash [32]byte) (bool, error)
	IsBlacklisted(ctx context.Context, userID string, deviceHash [32]byte) (bool, error)

	// Approve upserts a whitelist row, reviving a soft-deleted one.
	Approve(ctx context.Context, userID string, deviceHash [32]byte, seenAt time.Time) error
	// Reject upserts a blacklist row, reviving a soft-deleted one.
	Reject(ctx context.Context, userID string, deviceHash [32]byte, reason string, at time.Time) error

	// TouchTrusted updates lastSeen for an existing whitelist row.
	TouchTrusted(ctx context.Context, userID string, deviceHash [32]byte, at time.Time) error

	// PruneTrustedIdleSince soft-deletes whitelist rows not seen since cutoff.
	PruneTrustedIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlockStatus is the lifecycle state of an account block row.
type BlockStatus string

const (
	BlockActive    BlockStatus = "active"
	BlockUnblocked BlockStatus = "unblocked"
	BlockExpired   BlockStatus = "expired"
)

// AccountBlock suspends one account, addressed by user ID or email.
// Until == nil means indefinite.
type AccountBlock struct {
	ID        uuid.UUID
	UserID    string
	Email     string
	Reason    string
	Until     *time.Time
	Status    BlockStatus
	Actor     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlockLogEntry is one row of the append-only block history. Entries are
// never updated or deleted, independent of the current-state rows.
type BlockLogEntry struct {
	BlockID uuid.UUID
	Event   string // "block", "unblock", "expire"
	UserID  string
	Email   string
	Reason  string
	Actor   string
	At      time.Time
}

// BlockStore persists account blocks and their history.
type BlockStore interface {
	Insert(ctx context.Context, b AccountBlock) error
	FindByID(ctx context.Context, id uuid.UUID) (*AccountBlock, error)
	FindActiveByUser(ctx context.Context, userID string) (*AccountBlock, error)
	FindActiveByEmail(ctx context.Context, email string) (*AccountBlock, error)

	// Close transitions an active block to unblocked or expired.
	Close(ctx context.Context, id uuid.UUID, status BlockStatus, at time.Time) error

	// FindDue returns active blocks whose Until has passed.
	FindDue(ctx context.Context, now time.Time) ([]AccountBlock, error)

	AppendLog(ctx context.Context, e BlockLogEntry) error
}

// User is the slice of the external user entity this core reads and
// writes. TokenVersion is monotonic; bumping it invalidates every
// previously issued access token.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	TokenVersion    int64
	EmailVerifiedAt *time.Time
	Rules           []string
}

// UserDirectory is the external collaborator owning user rows.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	SetEmailVerified(ctx context.Context, id string, at time.Time) error
}
