package devicetrust

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cadencehq/authcore/store"
)

// Verdict is the trust decision for one (user, device) pair.
type Verdict int

const (
	// VerdictUnknown: device appears in neither list.
	VerdictUnknown Verdict = iota
	// VerdictTrusted: device is whitelisted and not blacklisted.
	VerdictTrusted
	// VerdictBlocked: device is blacklisted. Blacklist always wins,
	// even over a whitelist row for the same hash.
	VerdictBlocked
)

// Evaluator answers trust queries against the durable device store.
//
// FailOpen chooses the outage behavior: when false (the default) a store
// failure denies access, treating the trust check as a security gate
// rather than a convenience.
type Evaluator struct {
	devices  store.DeviceStore
	failOpen bool
	log      zerolog.Logger
}

func NewEvaluator(devices store.DeviceStore, failOpen bool, log zerolog.Logger) *Evaluator {
	return &Evaluator{devices: devices, failOpen: failOpen, log: log}
}

// Evaluate checks the blacklist first; a hit is authoritative regardless
// of whitelist state.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, deviceHash [32]byte) (Verdict, error) {
	blocked, err := e.devices.IsBlacklisted(ctx, userID, deviceHash)
	if err != nil {
		if e.failOpen {
			e.log.Warn().Err(err).Str("user_id", userID).
				Msg("device blacklist check degraded, failing open")
			return VerdictTrusted, nil
		}
		return VerdictUnknown, err
	}
	if blocked {
		return VerdictBlocked, nil
	}

	trusted, err := e.devices.IsTrusted(ctx, userID, deviceHash)
	if err != nil {
		if e.failOpen {
			e.log.Warn().Err(err).Str("user_id", userID).
				Msg("device whitelist check degraded, failing open")
			return VerdictTrusted, nil
		}
		return VerdictUnknown, err
	}
	if trusted {
		return VerdictTrusted, nil
	}
	return VerdictUnknown, nil
}
