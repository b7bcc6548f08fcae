package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthenticationFailed is the generic bad-credentials failure.
	// Deliberately indistinguishable between unknown email and wrong
	// password.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAccountBlocked indicates an active admin or automated block.
	// Blocks reveal their own existence; that disclosure is authorized.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrDeviceBlocked indicates a blacklisted device fingerprint.
	ErrDeviceBlocked = errors.New("device blocked")
	// ErrDeviceNotTrusted and ErrEmailNotVerified intentionally share
	// one outward message so a probing attacker cannot tell "wrong
	// password" gates from "right password, unverified" gates apart.
	ErrDeviceNotTrusted = errors.New("verification required")
	ErrEmailNotVerified = errors.New("verification required")
	// ErrRateLimited indicates a tripped lockout; see RateLimitedError
	// for the retry-after.
	ErrRateLimited = errors.New("too many attempts")
	// ErrTokenInvalid covers every refresh/action-token defect:
	// malformed, expired, already used, signature mismatch, lost
	// rotation race. Always generic.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrUnavailable is the generic infrastructure failure surfaced to
	// callers; internals are never exposed.
	ErrUnavailable = errors.New("service unavailable")
	// ErrNotReady is returned when the service was constructed with
	// missing dependencies.
	ErrNotReady = errors.New("auth service not initialized")
	// ErrPasswordPolicy rejects a new password that fails hashing
	// policy (e.g. too short).
	ErrPasswordPolicy = errors.New("password policy violation")
)

// RateLimitedError carries the remaining lock duration. It matches
// ErrRateLimited under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// CredentialsError is the bad-credentials failure, optionally carrying
// an attempts-remaining warning once the budget runs low. It matches
// ErrAuthenticationFailed under errors.Is.
type CredentialsError struct {
	// Remaining is the number of attempts left before lockout, or -1
	// when no warning applies.
	Remaining int
}

func (e *CredentialsError) Error() string {
	if e.Remaining >= 0 {
		return fmt.Sprintf("authentication failed, %d attempts remaining", e.Remaining)
	}
	return "authentication failed"
}

func (e *CredentialsError) Is(target error) bool { return target == ErrAuthenticationFailed }
