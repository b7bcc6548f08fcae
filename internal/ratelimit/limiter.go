// Package ratelimit provides Redis-backed failure counters and lock
// flags for the login path. Scopes are opaque hashed keys; the caller
// maintains one scope per email and one per client (IP+UA).
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnavailable wraps Redis failures. Callers normally never see it:
// the limiter applies its configured outage behavior internally.
var ErrUnavailable = errors.New("ratelimit: backend unavailable")

// Config tunes the sliding window and lockout.
type Config struct {
	MaxAttempts  int           // default 5
	Window       time.Duration // default 15m; counter TTL, refreshed per failure
	LockDuration time.Duration // default 10m; lock flag TTL

	// FailOpen selects the outage tradeoff. True by default: when Redis
	// is down, login availability wins over brute-force defense.
	FailOpen bool
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 10 * time.Minute
	}
}

// Limiter tracks consecutive failures per scope and trips a lock flag
// when the attempt budget is exhausted.
type Limiter struct {
	redis redis.UniversalClient
	cfg   Config
	log   zerolog.Logger
}

func New(redisClient redis.UniversalClient, cfg Config, log zerolog.Logger) *Limiter {
	cfg.applyDefaults()
	return &Limiter{redis: redisClient, cfg: cfg, log: log}
}

// ScopeKey hashes the scope parts into an opaque Redis key component so
// raw emails and addresses never appear in the keyspace.
func ScopeKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (l *Limiter) counterKey(scope string) string { return "rl:c:" + scope }
func (l *Limiter) lockKey(scope string) string    { return "rl:l:" + scope }

// FailureState describes a scope after RecordFailure.
type FailureState struct {
	// LockedNow is true only on the locking transition, exactly once
	// per lock event. Callers key unlock notifications off it.
	LockedNow bool
	// Locked is true whenever a lock flag is present.
	Locked bool
	// Remaining is the attempts left before lockout; -1 when unknown
	// (degraded backend).
	Remaining int
	// RetryAfter is the remaining lock duration when Locked.
	RetryAfter time.Duration
}

// CheckLock reports whether the scope is currently locked and for how
// much longer. A degraded backend fails open or closed per Config.
func (l *Limiter) CheckLock(ctx context.Context, scope string) (bool, time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.lockKey(scope)).Result()
	if err != nil {
		return l.degraded(err, "lock check")
	}
	if ttl > 0 {
		return true, ttl, nil
	}
	return false, 0, nil
}

// RecordFailure increments the scope's failure counter, refreshing the
// window TTL, and sets the lock flag once the budget is spent.
func (l *Limiter) RecordFailure(ctx context.Context, scope string) (FailureState, error) {
	count, err := l.redis.Incr(ctx, l.counterKey(scope)).Result()
	if err != nil {
		locked, retry, derr := l.degraded(err, "failure increment")
		return FailureState{Locked: locked, RetryAfter: retry, Remaining: -1}, derr
	}
	// Sliding window: every failure pushes the window out.
	if err := l.redis.Expire(ctx, l.counterKey(scope), l.cfg.Window).Err(); err != nil {
		l.log.Warn().Err(err).Msg("ratelimit: window refresh failed")
	}

	state := FailureState{Remaining: l.cfg.MaxAttempts - int(count)}
	if state.Remaining < 0 {
		state.Remaining = 0
	}
	if count < int64(l.cfg.MaxAttempts) {
		return state, nil
	}

	// SET NX makes the locking transition observable exactly once even
	// under concurrent failures.
	set, err := l.redis.SetNX(ctx, l.lockKey(scope), "1", l.cfg.LockDuration).Result()
	if err != nil {
		locked, retry, derr := l.degraded(err, "lock set")
		return FailureState{Locked: locked, RetryAfter: retry, Remaining: 0}, derr
	}
	state.Locked = true
	state.LockedNow = set
	state.RetryAfter = l.cfg.LockDuration
	if !set {
		if ttl, err := l.redis.PTTL(ctx, l.lockKey(scope)).Result(); err == nil && ttl > 0 {
			state.RetryAfter = ttl
		}
	}
	return state, nil
}

// Reset clears the counter and lock for a scope. Called on successful
// login and by the login_unlock action.
func (l *Limiter) Reset(ctx context.Context, scope string) error {
	if err := l.redis.Del(ctx, l.counterKey(scope), l.lockKey(scope)).Err(); err != nil {
		if l.cfg.FailOpen {
			l.log.Warn().Err(err).Msg("ratelimit: reset degraded, failing open")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// MaxAttempts exposes the configured budget for warning copy.
func (l *Limiter) MaxAttempts() int { return l.cfg.MaxAttempts }

func (l *Limiter) degraded(cause error, op string) (bool, time.Duration, error) {
	if l.cfg.FailOpen {
		l.log.Warn().Err(cause).Str("op", op).
			Msg("ratelimit: backend degraded, failing open")
		return false, 0, nil
	}
	return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
