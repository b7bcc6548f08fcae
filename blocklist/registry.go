// Package blocklist manages admin and automated account blocks: a
// durable row plus a mirrored Redis enforcement flag, consulted at
// login, at every refresh, and at every authorized-request check. The
// mirror exists because a block must bite even against already-issued,
// unexpired access tokens.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cadencehq/authcore/store"
)

// ErrUnavailable is returned on dependency outage when the registry is
// configured fail-closed.
var ErrUnavailable = errors.New("blocklist: backend unavailable")

// Config tunes the registry.
type Config struct {
	// FailOpen lets block checks pass on dependency outage. Default
	// false: a block registry that cannot answer denies access.
	FailOpen bool
}

// Registry is the account block store with its cache mirror.
type Registry struct {
	blocks store.BlockStore
	redis  redis.UniversalClient
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

func New(blocks store.BlockStore, redisClient redis.UniversalClient, cfg Config, now func() time.Time, log zerolog.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{blocks: blocks, redis: redisClient, cfg: cfg, now: now, log: log}
}

func userKey(userID string) string { return "blk:u:" + userID }
func emailKey(email string) string { return "blk:e:" + strings.ToLower(email) }

// BlockUser creates an active block row for a user id, mirrors the
// enforcement flag, and appends a log entry.
func (r *Registry) BlockUser(ctx context.Context, userID, reason, actor string, until *time.Time) (*store.AccountBlock, error) {
	return r.block(ctx, store.AccountBlock{UserID: userID}, reason, actor, until, userKey(userID))
}

// BlockEmail blocks by email address, for accounts that may not exist
// yet or whose id is unknown to the caller.
func (r *Registry) BlockEmail(ctx context.Context, email, reason, actor string, until *time.Time) (*store.AccountBlock, error) {
	return r.block(ctx, store.AccountBlock{Email: strings.ToLower(email)}, reason, actor, until, emailKey(email))
}

func (r *Registry) block(ctx context.Context, b store.AccountBlock, reason, actor string, until *time.Time, mirror string) (*store.AccountBlock, error) {
	now := r.now()
	b.ID = uuid.New()
	b.Reason = reason
	b.Actor = actor
	b.Until = until
	b.Status = store.BlockActive
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := r.blocks.Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.blocks.AppendLog(ctx, store.BlockLogEntry{
		BlockID: b.ID, Event: "block", UserID: b.UserID, Email: b.Email,
		Reason: reason, Actor: actor, At: now,
	}); err != nil {
		r.log.Error().Err(err).Str("block_id", b.ID.String()).Msg("block log append failed")
	}

	r.mirrorSet(ctx, mirror, b.Until, now)
	return &b, nil
}

// Unblock closes an active block, clears the mirror, and logs.
func (r *Registry) Unblock(ctx context.Context, blockID uuid.UUID, actor string) error {
	b, err := r.findByID(ctx, blockID)
	if err != nil {
		return err
	}
	now := r.now()
	if err := r.blocks.Close(ctx, blockID, store.BlockUnblocked, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.blocks.AppendLog(ctx, store.BlockLogEntry{
		BlockID: blockID, Event: "unblock", UserID: b.UserID, Email: b.Email,
		Actor: actor, At: now,
	}); err != nil {
		r.log.Error().Err(err).Str("block_id", blockID.String()).Msg("block log append failed")
	}
	r.mirrorClear(ctx, b)
	return nil
}

// Get returns the active block for the user id or email, or nil. The
// mirror is only a fast-path hint; the durable row is authoritative for
// details, and a mirror miss still consults the durable store.
func (r *Registry) Get(ctx context.Context, userID, email string) (*store.AccountBlock, error) {
	if userID != "" {
		if b, err := r.getOne(ctx, userKey(userID), func(c context.Context) (*store.AccountBlock, error) {
			return r.blocks.FindActiveByUser(c, userID)
		}); err != nil || b != nil {
			return b, err
		}
	}
	if email != "" {
		return r.getOne(ctx, emailKey(email), func(c context.Context) (*store.AccountBlock, error) {
			return r.blocks.FindActiveByEmail(c, strings.ToLower(email))
		})
	}
	return nil, nil
}

// IsBlocked is the cheap enforcement check for the refresh and
// authorization paths: mirror first, durable on miss. Both the user-id
// and the email key are consulted, so an email-scoped block bites on
// every request the account makes, not just at login.
func (r *Registry) IsBlocked(ctx context.Context, userID, email string) (bool, error) {
	keys := make([]string, 0, 2)
	if userID != "" {
		keys = append(keys, userKey(userID))
	}
	if email != "" {
		keys = append(keys, emailKey(email))
	}
	if len(keys) > 0 {
		n, err := r.redis.Exists(ctx, keys...).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("block mirror read failed, falling back to store")
		}
	}
	b, err := r.Get(ctx, userID, email)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// ExpireDue flips overdue active rows to expired, clears their stale
// mirrors, and logs each transition. Run from the scheduler.
func (r *Registry) ExpireDue(ctx context.Context) (int, error) {
	now := r.now()
	due, err := r.blocks.FindDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expired := 0
	for i := range due {
		b := &due[i]
		if err := r.blocks.Close(ctx, b.ID, store.BlockExpired, now); err != nil {
			r.log.Error().Err(err).Str("block_id", b.ID.String()).Msg("block expire failed")
			continue
		}
		if err := r.blocks.AppendLog(ctx, store.BlockLogEntry{
			BlockID: b.ID, Event: "expire", UserID: b.UserID, Email: b.Email,
			Actor: "sweep", At: now,
		}); err != nil {
			r.log.Error().Err(err).Str("block_id", b.ID.String()).Msg("block log append failed")
		}
		r.mirrorClear(ctx, b)
		expired++
	}
	return expired, nil
}

func (r *Registry) getOne(ctx context.Context, mirror string, find func(context.Context) (*store.AccountBlock, error)) (*store.AccountBlock, error) {
	b, err := find(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if r.cfg.FailOpen {
			r.log.Warn().Err(err).Msg("block lookup degraded, failing open")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !r.stillActive(b) {
		return nil, nil
	}
	// Repair the mirror opportunistically; a lost flag must not weaken
	// enforcement on the hot path.
	r.mirrorSet(ctx, mirror, b.Until, r.now())
	return b, nil
}

func (r *Registry) stillActive(b *store.AccountBlock) bool {
	if b == nil || b.Status != store.BlockActive {
		return false
	}
	return b.Until == nil || b.Until.After(r.now())
}

func (r *Registry) mirrorSet(ctx context.Context, key string, until *time.Time, now time.Time) {
	var ttl time.Duration // 0 = no expiry, for indefinite blocks
	if until != nil {
		ttl = until.Sub(now)
		if ttl <= 0 {
			return
		}
	}
	if err := r.redis.Set(ctx, key, "1", ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("block mirror write failed")
	}
}

func (r *Registry) mirrorClear(ctx context.Context, b *store.AccountBlock) {
	keys := make([]string, 0, 2)
	if b.UserID != "" {
		keys = append(keys, userKey(b.UserID))
	}
	if b.Email != "" {
		keys = append(keys, emailKey(b.Email))
	}
	if len(keys) == 0 {
		return
	}
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		r.log.Warn().Err(err).Msg("block mirror clear failed")
	}
}

func (r *Registry) findByID(ctx context.Context, id uuid.UUID) (*store.AccountBlock, error) {
	b, err := r.blocks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}
