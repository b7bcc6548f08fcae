package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering and retry behavior.
type Config struct {
	BufferSize  int           // default 64
	MaxRetries  int           // default 3 delivery attempts per message
	RetryDelay  time.Duration // base backoff, doubled per attempt; default 2s
	SendTimeout time.Duration // per-attempt timeout; default 10s
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Dispatcher is the notification outbox: Enqueue never blocks the
// request path, a worker drains the queue with retry and backoff, and
// delivery failures are logged rather than surfaced to callers.
type Dispatcher struct {
	cfg    Config
	sender Sender
	log    zerolog.Logger

	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sender Sender, log zerolog.Logger) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		log:    log,
		ch:     make(chan Message, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue queues a message for delivery. It drops rather than blocks
// when the buffer is full: notification sends must never stall the
// primary flow.
func (d *Dispatcher) Enqueue(m Message) {
	if d == nil || d.closed.Load() {
		return
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}
	select {
	case d.ch <- m:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("template", string(m.Template)).
			Msg("notification buffer full, message dropped")
	}
}

// Dropped reports how many messages were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close drains the remaining queue and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.ch:
			d.deliver(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	delay := d.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.sender.Send(ctx, m)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.cfg.MaxRetries {
			d.log.Error().Err(err).
				Str("template", string(m.Template)).
				Int("attempts", attempt).
				Msg("notification delivery abandoned")
			return
		}
		d.log.Warn().Err(err).
			Str("template", string(m.Template)).
			Int("attempt", attempt).
			Msg("notification delivery failed, retrying")
		select {
		case <-time.After(delay):
		case <-d.done:
			// Shutdown: one final immediate attempt happens on the
			// next loop iteration, then we give up via MaxRetries.
		}
		delay *= 2
	}
}
