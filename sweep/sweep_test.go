package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunnerInvokesPass(t *testing.T) {
	var calls atomic.Int32
	r := New(5*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	r.Start()
	deadline := time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("pass was not invoked twice within the deadline")
		case <-time.After(time.Millisecond):
		}
	}
	r.Stop()
}

func TestRunnerStopsCleanly(t *testing.T) {
	var calls atomic.Int32
	r := New(time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("pass failed")
	}, zerolog.Nop())

	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	after := calls.Load()
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("pass ran after Stop returned")
	}
}

func TestStopIdempotent(t *testing.T) {
	r := New(time.Millisecond, func(context.Context) error { return nil }, zerolog.Nop())
	r.Start()
	r.Stop()
	r.Stop()
}

func TestZeroIntervalDefaults(t *testing.T) {
	r := New(0, func(context.Context) error { return nil }, zerolog.Nop())
	if r.interval != time.Minute {
		t.Fatalf("interval = %v, want 1m default", r.interval)
	}
}
