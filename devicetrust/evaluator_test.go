package devicetrust_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/authcore/devicetrust"
	"github.com/cadencehq/authcore/store/storefakes"
)

func TestEvaluateUnknownDevice(t *testing.T) {
	fake := storefakes.New()
	ev := devicetrust.NewEvaluator(fake, false, zerolog.Nop())

	v, err := ev.Evaluate(context.Background(), "u1", [32]byte{1})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if v != devicetrust.VerdictUnknown {
		t.Fatalf("verdict = %v, want unknown", v)
	}
}

func TestEvaluateTrustedDevice(t *testing.T) {
	fake := storefakes.New()
	hash := [32]byte{1}
	if err := fake.Approve(context.Background(), "u1", hash, time.Now()); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	ev := devicetrust.NewEvaluator(fake, false, zerolog.Nop())

	v, err := ev.Evaluate(context.Background(), "u1", hash)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if v != devicetrust.VerdictTrusted {
		t.Fatalf("verdict = %v, want trusted", v)
	}
}

func TestEvaluateBlacklistBeatsWhitelist(t *testing.T) {
	fake := storefakes.New()
	hash := [32]byte{1}
	ctx := context.Background()
	if err := fake.Approve(ctx, "u1", hash, time.Now()); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if err := fake.Reject(ctx, "u1", hash, "reported", time.Now()); err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	ev := devicetrust.NewEvaluator(fake, false, zerolog.Nop())

	v, err := ev.Evaluate(ctx, "u1", hash)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if v != devicetrust.VerdictBlocked {
		t.Fatalf("verdict = %v, want blocked", v)
	}
}

func TestEvaluateOutage(t *testing.T) {
	fake := storefakes.New()
	fake.FailAll = true

	closed := devicetrust.NewEvaluator(fake, false, zerolog.Nop())
	if _, err := closed.Evaluate(context.Background(), "u1", [32]byte{1}); err == nil {
		t.Fatal("expected fail-closed evaluator to return the store error")
	}

	open := devicetrust.NewEvaluator(fake, true, zerolog.Nop())
	v, err := open.Evaluate(context.Background(), "u1", [32]byte{1})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if v != devicetrust.VerdictTrusted {
		t.Fatalf("verdict = %v, want trusted under fail-open", v)
	}
}
