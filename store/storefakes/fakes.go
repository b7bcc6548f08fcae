// Package storefakes provides in-memory implementations of the store
// contracts for tests. A single Fake backs all four interfaces so that
// token-version bumps and refresh revocations share state the way the
// Postgres transaction does.
package storefakes

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/authcore/store"
)

type deviceKey struct {
	userID string
	hash   [32]byte
}

type deviceRow struct {
	lastSeen time.Time
	reason   string
	deleted  bool
}

// Fake is a mutex-guarded in-memory store implementing
// store.SessionStore, store.DeviceStore, store.BlockStore, and
// store.UserDirectory.
type Fake struct {
	mu sync.Mutex

	Users    map[string]*store.User // by ID
	Refresh  map[uuid.UUID]*store.RefreshToken
	trusted  map[deviceKey]*deviceRow
	rejected map[deviceKey]*deviceRow
	Blocks   map[uuid.UUID]*store.AccountBlock
	BlockLog []store.BlockLogEntry

	// FailAll makes every call return store.ErrUnavailable, for
	// dependency-outage tests.
	FailAll bool
}

func New() *Fake {
	return &Fake{
		Users:    map[string]*store.User{},
		Refresh:  map[uuid.UUID]*store.RefreshToken{},
		trusted:  map[deviceKey]*deviceRow{},
		rejected: map[deviceKey]*deviceRow{},
		Blocks:   map[uuid.UUID]*store.AccountBlock{},
	}
}

// AddUser registers a user row. The pointer is retained.
func (f *Fake) AddUser(u *store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[u.ID] = u
}

func (f *Fake) failing() error {
	if f.FailAll {
		return store.ErrUnavailable
	}
	return nil
}

// --- store.SessionStore ---

func (f *Fake) IssueSession(_ context.Context, tok store.RefreshToken) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return 0, err
	}
	u, ok := f.Users[tok.UserID]
	if !ok {
		return 0, store.ErrNotFound
	}
	for _, t := range f.Refresh {
		if t.UserID == tok.UserID {
			t.Revoked = true
		}
	}
	u.TokenVersion++
	cp := tok
	f.Refresh[tok.ID] = &cp
	return u.TokenVersion, nil
}

func (f *Fake) GetRefreshToken(_ context.Context, id uuid.UUID) (*store.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	t, ok := f.Refresh[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *Fake) RotateRefreshToken(_ context.Context, oldID uuid.UUID, successor store.RefreshToken) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return false, err
	}
	old, ok := f.Refresh[oldID]
	if !ok || old.Revoked {
		return false, nil
	}
	old.Revoked = true
	succID := successor.ID
	old.ReplacedByID = &succID
	cp := successor
	f.Refresh[successor.ID] = &cp
	return true, nil
}

func (f *Fake) RevokeToken(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	if t, ok := f.Refresh[id]; ok {
		t.Revoked = true
	}
	return nil
}

func (f *Fake) RevokeAll(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return 0, err
	}
	u, ok := f.Users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	for _, t := range f.Refresh {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}

func (f *Fake) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return 0, err
	}
	var n int64
	for id, t := range f.Refresh {
		if t.Revoked && t.CreatedAt.Before(cutoff) {
			delete(f.Refresh, id)
			n++
		}
	}
	return n, nil
}

// ActiveRefreshCount reports non-revoked refresh rows for a user.
func (f *Fake) ActiveRefreshCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.Refresh {
		if t.UserID == userID && !t.Revoked {
			n++
		}
	}
	return n
}

// --- store.DeviceStore ---

func (f *Fake) IsTrusted(_ context.Context, userID string, hash [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return false, err
	}
	row, ok := f.trusted[deviceKey{userID, hash}]
	return ok && !row.deleted, nil
}

func (f *Fake) IsBlacklisted(_ context.Context, userID string, hash [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return false, err
	}
	row, ok := f.rejected[deviceKey{userID, hash}]
	return ok && !row.deleted, nil
}

func (f *Fake) Approve(_ context.Context, userID string, hash [32]byte, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	f.trusted[deviceKey{userID, hash}] = &deviceRow{lastSeen: seenAt}
	return nil
}

func (f *Fake) Reject(_ context.Context, userID string, hash [32]byte, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	f.rejected[deviceKey{userID, hash}] = &deviceRow{lastSeen: at, reason: reason}
	return nil
}

func (f *Fake) TouchTrusted(_ context.Context, userID string, hash [32]byte, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	if row, ok := f.trusted[deviceKey{userID, hash}]; ok && !row.deleted {
		row.lastSeen = at
	}
	return nil
}

func (f *Fake) PruneTrustedIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range f.trusted {
		if !row.deleted && row.lastSeen.Before(cutoff) {
			row.deleted = true
			n++
		}
	}
	return n, nil
}

// --- store.BlockStore ---

func (f *Fake) Insert(_ context.Context, b store.AccountBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	cp := b
	f.Blocks[b.ID] = &cp
	return nil
}

func (f *Fake) FindByID(_ context.Context, id uuid.UUID) (*store.AccountBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	b, ok := f.Blocks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *Fake) FindActiveByUser(_ context.Context, userID string) (*store.AccountBlock, error) {
	return f.findActive(func(b *store.AccountBlock) bool { return b.UserID == userID })
}

func (f *Fake) FindActiveByEmail(_ context.Context, email string) (*store.AccountBlock, error) {
	return f.findActive(func(b *store.AccountBlock) bool {
		return strings.EqualFold(b.Email, email)
	})
}

func (f *Fake) findActive(match func(*store.AccountBlock) bool) (*store.AccountBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	for _, b := range f.Blocks {
		if b.Status == store.BlockActive && match(b) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) Close(_ context.Context, id uuid.UUID, status store.BlockStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	b, ok := f.Blocks[id]
	if !ok || b.Status != store.BlockActive {
		return store.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = at
	return nil
}

func (f *Fake) FindDue(_ context.Context, now time.Time) ([]store.AccountBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	var due []store.AccountBlock
	for _, b := range f.Blocks {
		if b.Status == store.BlockActive && b.Until != nil && !b.Until.After(now) {
			due = append(due, *b)
		}
	}
	return due, nil
}

func (f *Fake) AppendLog(_ context.Context, e store.BlockLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	f.BlockLog = append(f.BlockLog, e)
	return nil
}

// --- store.UserDirectory ---

func (f *Fake) GetByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	u, ok := f.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *Fake) GetByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return nil, err
	}
	for _, u := range f.Users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *Fake) SetEmailVerified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing(); err != nil {
		return err
	}
	u, ok := f.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.EmailVerifiedAt == nil {
		t := at
		u.EmailVerifiedAt = &t
	}
	return nil
}
