// Package sweep runs periodic maintenance passes on a ticker.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pass is one maintenance function, expected to be idempotent.
type Pass func(ctx context.Context) error

// Runner invokes a pass at a fixed interval until Stop.
type Runner struct {
	interval time.Duration
	pass     Pass
	log      zerolog.Logger

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(interval time.Duration, pass Pass, log zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		interval: interval,
		pass:     pass,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches the loop. The first pass runs after one interval, not
// immediately, so process startup storms do not all sweep at once.
func (r *Runner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runOnce()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()
	})
}

func (r *Runner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	if err := r.pass(ctx); err != nil {
		r.log.Error().Err(err).Msg("maintenance pass failed")
	}
}
