package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cadencehq/authcore/devicetrust"
	"github.com/cadencehq/authcore/internal/actiontoken"
	"github.com/cadencehq/authcore/internal/ratelimit"
	"github.com/cadencehq/authcore/notify"
	"github.com/cadencehq/authcore/store"
)

// Login evaluates one credential attempt. The checks run in a fixed
// order: lockout, account block, device blacklist, credentials, email
// verification, device whitelist. Each gate's refusal reveals nothing
// about the later gates, and unknown emails take the same failure path
// as wrong passwords.
func (s *Service) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	email := normalizeEmail(in.Email)
	emailScope := ratelimit.ScopeKey("email", email)
	clientScope := ratelimit.ScopeKey("client", in.ForwardedAddr, in.UserAgent)

	for _, scope := range []string{emailScope, clientScope} {
		locked, retry, err := s.limiter.CheckLock(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if locked {
			return nil, &RateLimitedError{RetryAfter: retry}
		}
	}

	// Email blocks apply before the account is even looked up, so a
	// blocked address that never registered still gets refused.
	if b, err := s.blocks.Get(ctx, "", email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if b != nil {
		return nil, ErrAccountBlocked
	}

	deviceHash := s.fingerprint(in)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown address: burn an attempt and answer exactly like a
			// wrong password.
			return nil, s.loginFailure(ctx, email, emailScope, clientScope, nil, deviceHash)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if b, err := s.blocks.Get(ctx, user.ID, ""); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if b != nil {
		return nil, ErrAccountBlocked
	}

	// The trust verdict is taken before the password is examined: a
	// blacklisted device gets no oracle for credential guessing.
	verdict, err := s.trust.Evaluate(ctx, user.ID, deviceHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if verdict == devicetrust.VerdictBlocked {
		return nil, ErrDeviceBlocked
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, s.loginFailure(ctx, email, emailScope, clientScope, user, deviceHash)
	}

	if user.EmailVerifiedAt == nil {
		s.sendVerification(ctx, user, deviceHash)
		return nil, ErrEmailNotVerified
	}

	if verdict != devicetrust.VerdictTrusted {
		s.sendDeviceApproval(ctx, user, deviceHash)
		return nil, ErrDeviceNotTrusted
	}

	if err := s.limiter.Reset(ctx, emailScope); err != nil {
		s.log.Warn().Err(err).Msg("failure counter reset failed")
	}
	if err := s.limiter.Reset(ctx, clientScope); err != nil {
		s.log.Warn().Err(err).Msg("failure counter reset failed")
	}

	s.maybeUpgradeHash(ctx, user, in.Password)

	pair, err := s.issueSession(ctx, user, deviceHash)
	if err != nil {
		return nil, err
	}

	if err := s.devices.TouchTrusted(ctx, user.ID, deviceHash, s.now()); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("trusted device touch failed")
	}

	s.log.Info().Str("user_id", user.ID).Msg("login succeeded")
	return pair, nil
}

// loginFailure records the failed attempt and shapes the caller-facing
// error. The email scope counts first; the client scope only counts
// while the email scope is still open, so one attacker cannot spend the
// victim's budget twice per guess.
func (s *Service) loginFailure(ctx context.Context, email, emailScope, clientScope string, user *store.User, deviceHash [32]byte) error {
	st, err := s.limiter.RecordFailure(ctx, emailScope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !st.Locked {
		if _, err := s.limiter.RecordFailure(ctx, clientScope); err != nil {
			s.log.Warn().Err(err).Msg("client failure record failed")
		}
	}

	if st.LockedNow {
		s.sendUnlock(ctx, email, user, deviceHash)
		s.log.Info().Str("email_scope", emailScope).Msg("login scope locked")
	}
	if st.Locked {
		return &RateLimitedError{RetryAfter: st.RetryAfter}
	}
	if st.Remaining >= 0 && st.Remaining <= 2 {
		return &CredentialsError{Remaining: st.Remaining}
	}
	return ErrAuthenticationFailed
}

// sendUnlock queues the lockout notification, at most once per lock
// window per address. When the account exists the message also carries
// a report link that blacklists the offending device and revokes every
// session.
func (s *Service) sendUnlock(ctx context.Context, email string, user *store.User, deviceHash [32]byte) {
	fresh, err := s.actions.MarkSend(ctx, actiontoken.TypeLoginUnlock, email, s.cfg.Lockout.LockDuration)
	if err != nil || !fresh {
		return
	}
	unlock, _, err := s.actions.Issue(actiontoken.LoginUnlock{Email: email})
	if err != nil {
		s.log.Error().Err(err).Msg("unlock token issue failed")
		return
	}
	m := notify.Message{
		Template:  notify.TemplateUnlockLogin,
		Recipient: email,
		Link:      s.actionLink(unlock),
	}
	if user != nil {
		report, _, err := s.actions.Issue(actiontoken.LoginReport{UserID: user.ID, DeviceHash: deviceHash})
		if err != nil {
			s.log.Error().Err(err).Msg("report token issue failed")
		} else {
			m.Meta = map[string]string{"report_link": s.actionLink(report)}
		}
	}
	s.enqueue(m)
}

func (s *Service) sendVerification(ctx context.Context, user *store.User, deviceHash [32]byte) {
	fresh, err := s.actions.MarkSend(ctx, actiontoken.TypeEmailVerify, user.Email, 0)
	if err != nil || !fresh {
		return
	}
	token, _, err := s.actions.Issue(actiontoken.EmailVerify{
		UserID: user.ID, Email: user.Email, DeviceHash: deviceHash,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("verification token issue failed")
		return
	}
	s.enqueue(notify.Message{
		Template:  notify.TemplateVerifyEmail,
		Recipient: user.Email,
		Link:      s.actionLink(token),
	})
}

// sendDeviceApproval queues the new-device message with both outcomes:
// the approval link whitelists the device, the reject link blacklists
// it and ends every session. Deduped per (address, device).
func (s *Service) sendDeviceApproval(ctx context.Context, user *store.User, deviceHash [32]byte) {
	dedupe := user.Email + ":" + hex.EncodeToString(deviceHash[:8])
	fresh, err := s.actions.MarkSend(ctx, actiontoken.TypeDeviceApprove, dedupe, 0)
	if err != nil || !fresh {
		return
	}
	approve, _, err := s.actions.Issue(actiontoken.DeviceApprove{UserID: user.ID, DeviceHash: deviceHash})
	if err != nil {
		s.log.Error().Err(err).Msg("approve token issue failed")
		return
	}
	reject, _, err := s.actions.Issue(actiontoken.DeviceReject{UserID: user.ID, DeviceHash: deviceHash})
	if err != nil {
		s.log.Error().Err(err).Msg("reject token issue failed")
		return
	}
	s.enqueue(notify.Message{
		Template:  notify.TemplateApproveDevice,
		Recipient: user.Email,
		Link:      s.actionLink(approve),
		Meta:      map[string]string{"reject_link": s.actionLink(reject)},
	})
}

// maybeUpgradeHash re-hashes the password when the stored hash uses
// weaker parameters than the current configuration. Login is the only
// moment the plaintext is available for this.
func (s *Service) maybeUpgradeHash(ctx context.Context, user *store.User, plaintext string) {
	needs, err := s.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password re-hash failed")
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password hash upgrade failed")
		return
	}
	user.PasswordHash = hash
}
