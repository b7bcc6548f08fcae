package authcore

import (
	"context"
	"errors"
)

// Sweep runs one maintenance pass: overdue blocks expire, idle trusted
// devices age out, and old revoked refresh rows are deleted. Each step
// runs even when an earlier one fails.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()
	var errs []error

	expired, err := s.blocks.ExpireDue(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if expired > 0 {
		s.log.Info().Int("count", expired).Msg("timed blocks expired")
	}

	pruned, err := s.devices.PruneTrustedIdleSince(ctx, now.Add(-s.cfg.Sweep.DeviceIdleAfter))
	if err != nil {
		errs = append(errs, err)
	} else if pruned > 0 {
		s.log.Info().Int64("count", pruned).Msg("idle trusted devices pruned")
	}

	deleted, err := s.sessions.DeleteRevokedBefore(ctx, now.Add(-s.cfg.Sweep.RefreshRetention))
	if err != nil {
		errs = append(errs, err)
	} else if deleted > 0 {
		s.log.Info().Int64("count", deleted).Msg("revoked refresh rows deleted")
	}

	return errors.Join(errs...)
}
