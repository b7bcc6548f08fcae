package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/authcore/store"
)

// BlockUser suspends an account immediately: the block row and its
// enforcement mirror are written, then every session ends. until == nil
// blocks indefinitely.
func (s *Service) BlockUser(ctx context.Context, userID, reason, actor string, until *time.Time) (*store.AccountBlock, error) {
	b, err := s.blocks.BlockUser(ctx, userID, reason, actor, until)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("post-block revocation failed")
	}
	s.log.Info().Str("user_id", userID).Str("actor", actor).Msg("account blocked")
	return b, nil
}

// BlockEmail blocks by address, for accounts whose id is unknown or
// that have not registered yet. When the address resolves to an
// existing user, that user's sessions end too.
func (s *Service) BlockEmail(ctx context.Context, email, reason, actor string, until *time.Time) (*store.AccountBlock, error) {
	email = normalizeEmail(email)
	b, err := s.blocks.BlockEmail(ctx, email, reason, actor, until)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user, err := s.users.GetByEmail(ctx, email); err == nil {
		if _, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("post-block revocation failed")
		}
	}
	s.log.Info().Str("actor", actor).Msg("email blocked")
	return b, nil
}

// Unblock closes an active block. The block's device blacklist entries,
// if any, survive: lifting a block does not re-trust devices.
func (s *Service) Unblock(ctx context.Context, blockID uuid.UUID, actor string) error {
	if err := s.blocks.Unblock(ctx, blockID, actor); err != nil {
		return err
	}
	s.log.Info().Str("block_id", blockID.String()).Str("actor", actor).Msg("account unblocked")
	return nil
}

// GetBlock reports the active block for a user id or email, or nil.
func (s *Service) GetBlock(ctx context.Context, userID, email string) (*store.AccountBlock, error) {
	return s.blocks.Get(ctx, userID, normalizeEmail(email))
}

// ApproveDeviceFor whitelists a device on behalf of an operator,
// without an action token.
func (s *Service) ApproveDeviceFor(ctx context.Context, userID string, deviceHash [32]byte) error {
	if err := s.devices.Approve(ctx, userID, deviceHash, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RejectDeviceFor blacklists a device on behalf of an operator and ends
// every session.
func (s *Service) RejectDeviceFor(ctx context.Context, userID string, deviceHash [32]byte, reason string) error {
	return s.rejectAndRevoke(ctx, userID, deviceHash, reason)
}
