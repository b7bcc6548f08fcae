package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, cfg, zerolog.Nop()), mr
}

func TestScopeKeyOpaqueAndStable(t *testing.T) {
	a := ScopeKey("email", "user@example.com")
	b := ScopeKey("email", "user@example.com")
	c := ScopeKey("email", "other@example.com")
	if a != b {
		t.Fatal("expected identical inputs to hash identically")
	}
	if a == c {
		t.Fatal("expected different inputs to hash differently")
	}
	if len(a) != 32 {
		t.Fatalf("key length = %d, want 32 hex chars", len(a))
	}
}

func TestScopeKeySeparatorsMatter(t *testing.T) {
	if ScopeKey("ab", "c") == ScopeKey("a", "bc") {
		t.Fatal("expected part boundaries to affect the key")
	}
}

func TestLockAfterBudgetExhausted(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 3, LockDuration: 10 * time.Minute})
	ctx := context.Background()
	scope := ScopeKey("email", "victim@example.com")

	for i := 0; i < 2; i++ {
		st, err := l.RecordFailure(ctx, scope)
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if st.Locked {
			t.Fatalf("locked after %d failures, budget is 3", i+1)
		}
		if want := 3 - (i + 1); st.Remaining != want {
			t.Fatalf("Remaining = %d, want %d", st.Remaining, want)
		}
	}

	st, err := l.RecordFailure(ctx, scope)
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !st.Locked || !st.LockedNow {
		t.Fatalf("state = %+v, want Locked and LockedNow on third failure", st)
	}
	if st.RetryAfter != 10*time.Minute {
		t.Fatalf("RetryAfter = %v, want 10m", st.RetryAfter)
	}
}

func TestLockedNowFiresExactlyOnce(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	scope := ScopeKey("email", "victim@example.com")

	first, err := l.RecordFailure(ctx, scope)
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !first.LockedNow {
		t.Fatal("expected first exhausting failure to report LockedNow")
	}

	second, err := l.RecordFailure(ctx, scope)
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if second.LockedNow {
		t.Fatal("expected LockedNow only on the locking transition")
	}
	if !second.Locked {
		t.Fatal("expected scope to remain locked")
	}
}

func TestCheckLockExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, LockDuration: time.Minute})
	ctx := context.Background()
	scope := ScopeKey("email", "victim@example.com")

	if _, err := l.RecordFailure(ctx, scope); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	locked, retry, err := l.CheckLock(ctx, scope)
	if err != nil {
		t.Fatalf("CheckLock error: %v", err)
	}
	if !locked || retry <= 0 {
		t.Fatalf("locked=%v retry=%v, want active lock", locked, retry)
	}

	mr.FastForward(2 * time.Minute)

	locked, _, err = l.CheckLock(ctx, scope)
	if err != nil {
		t.Fatalf("CheckLock error: %v", err)
	}
	if locked {
		t.Fatal("expected lock to expire with its TTL")
	}
}

func TestWindowExpiryClearsCounter(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()
	scope := ScopeKey("email", "victim@example.com")

	if _, err := l.RecordFailure(ctx, scope); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if _, err := l.RecordFailure(ctx, scope); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	st, err := l.RecordFailure(ctx, scope)
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if st.Locked {
		t.Fatal("expected stale failures to age out of the window")
	}
	if st.Remaining != 2 {
		t.Fatalf("Remaining = %d, want 2 after window reset", st.Remaining)
	}
}

func TestResetClearsCounterAndLock(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 1})
	ctx := context.Background()
	scope := ScopeKey("email", "victim@example.com")

	if _, err := l.RecordFailure(ctx, scope); err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if err := l.Reset(ctx, scope); err != nil {
		t.Fatalf("Reset error: %v", err)
	}

	locked, _, err := l.CheckLock(ctx, scope)
	if err != nil {
		t.Fatalf("CheckLock error: %v", err)
	}
	if locked {
		t.Fatal("expected Reset to clear the lock")
	}
}

func TestOutageBehavior(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	open := New(client, Config{FailOpen: true}, zerolog.Nop())
	locked, _, err := open.CheckLock(context.Background(), "scope")
	if err != nil || locked {
		t.Fatalf("fail-open CheckLock = (%v, %v), want open pass", locked, err)
	}
	st, err := open.RecordFailure(context.Background(), "scope")
	if err != nil {
		t.Fatalf("fail-open RecordFailure error: %v", err)
	}
	if st.Remaining != -1 {
		t.Fatalf("Remaining = %d, want -1 when degraded", st.Remaining)
	}

	closed := New(client, Config{FailOpen: false}, zerolog.Nop())
	if _, _, err := closed.CheckLock(context.Background(), "scope"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("fail-closed CheckLock error = %v, want ErrUnavailable", err)
	}
}
