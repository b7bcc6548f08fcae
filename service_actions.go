package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cadencehq/authcore/internal/actiontoken"
	"github.com/cadencehq/authcore/internal/ratelimit"
	"github.com/cadencehq/authcore/notify"
	"github.com/cadencehq/authcore/store"
)

// SendPasswordReset queues a password reset message for the address.
// Unknown addresses return nil with no message, so the endpoint cannot
// be used to probe which emails are registered.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fresh, err := s.actions.MarkSend(ctx, actiontoken.TypePasswordReset, email, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !fresh {
		return nil
	}
	token, _, err := s.actions.Issue(actiontoken.PasswordReset{UserID: user.ID})
	if err != nil {
		return err
	}
	s.enqueue(notify.Message{
		Template:  notify.TemplatePasswordReset,
		Recipient: email,
		Link:      s.actionLink(token),
	})
	return nil
}

// SendVerification queues a verification message for an unverified
// address. Unknown or already-verified addresses return nil silently.
func (s *Service) SendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}
	s.sendVerification(ctx, user, [32]byte{})
	return nil
}

// VerifyEmail consumes an email verification token. When the token
// carries the fingerprint of the device that triggered it, that device
// is whitelisted in the same step, so first login completes without a
// second round trip.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	p, err := s.consume(ctx, token, actiontoken.TypeEmailVerify)
	if err != nil {
		return err
	}
	v := p.(actiontoken.EmailVerify)

	if err := s.users.SetEmailVerified(ctx, v.UserID, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if v.DeviceHash != ([32]byte{}) {
		if err := s.devices.Approve(ctx, v.UserID, v.DeviceHash, s.now()); err != nil {
			s.log.Warn().Err(err).Str("user_id", v.UserID).Msg("device auto-approve failed")
		}
	}
	s.log.Info().Str("user_id", v.UserID).Msg("email verified")
	return nil
}

// ApproveDevice consumes a device approval token and whitelists the
// device.
func (s *Service) ApproveDevice(ctx context.Context, token string) error {
	p, err := s.consume(ctx, token, actiontoken.TypeDeviceApprove)
	if err != nil {
		return err
	}
	v := p.(actiontoken.DeviceApprove)
	if err := s.devices.Approve(ctx, v.UserID, v.DeviceHash, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info().Str("user_id", v.UserID).Msg("device approved")
	return nil
}

// RejectDevice consumes a device rejection token: the device is
// blacklisted and every session ends.
func (s *Service) RejectDevice(ctx context.Context, token string) error {
	p, err := s.consume(ctx, token, actiontoken.TypeDeviceReject)
	if err != nil {
		return err
	}
	v := p.(actiontoken.DeviceReject)
	return s.rejectAndRevoke(ctx, v.UserID, v.DeviceHash, "rejected by user")
}

// ReportLogin consumes a "this wasn't me" token from a lockout message.
// The reported device is blacklisted and every session ends.
func (s *Service) ReportLogin(ctx context.Context, token string) error {
	p, err := s.consume(ctx, token, actiontoken.TypeLoginReport)
	if err != nil {
		return err
	}
	v := p.(actiontoken.LoginReport)
	return s.rejectAndRevoke(ctx, v.UserID, v.DeviceHash, "reported login attempt")
}

// UnlockLogin consumes an unlock token and clears the lock and failure
// counter for the address.
func (s *Service) UnlockLogin(ctx context.Context, token string) error {
	p, err := s.consume(ctx, token, actiontoken.TypeLoginUnlock)
	if err != nil {
		return err
	}
	v := p.(actiontoken.LoginUnlock)
	scope := ratelimit.ScopeKey("email", normalizeEmail(v.Email))
	if err := s.limiter.Reset(ctx, scope); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info().Msg("login scope unlocked")
	return nil
}

// ResetPassword consumes a reset token and stores the new credential.
// Every session ends and the lock for the address clears: the user has
// just proven control of the mailbox.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	p, err := s.consume(ctx, token, actiontoken.TypePasswordReset)
	if err != nil {
		return err
	}
	v := p.(actiontoken.PasswordReset)

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := s.users.UpdatePasswordHash(ctx, v.UserID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := s.sessions.RevokeAll(ctx, v.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user, err := s.users.GetByID(ctx, v.UserID); err == nil {
		scope := ratelimit.ScopeKey("email", normalizeEmail(user.Email))
		if err := s.limiter.Reset(ctx, scope); err != nil {
			s.log.Warn().Err(err).Msg("failure counter reset failed")
		}
	}
	s.log.Info().Str("user_id", v.UserID).Msg("password reset")
	return nil
}

// consume maps the issuer's error vocabulary onto the service's. Every
// token defect collapses into ErrTokenInvalid.
func (s *Service) consume(ctx context.Context, token string, want actiontoken.Type) (actiontoken.Payload, error) {
	p, err := s.actions.Consume(ctx, token, want)
	if err != nil {
		if errors.Is(err, actiontoken.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, ErrTokenInvalid
	}
	return p, nil
}

func (s *Service) rejectAndRevoke(ctx context.Context, userID string, deviceHash [32]byte, reason string) error {
	if err := s.devices.Reject(ctx, userID, deviceHash, reason, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Warn().Str("user_id", userID).Str("reason", reason).Msg("device blacklisted, sessions revoked")
	return nil
}
