package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COUNTDOWN TIMER
// ══════════════════════════════════════════════════════════════════════════════

// Countdown enforces the monitoring window. The deadline is fixed at Start on
// the monotonic clock; there is no pause.
type Countdown struct {
	tick time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	deadline time.Time
	running  bool

	remaining atomic.Int64 // nanoseconds
}

// NewCountdown creates a countdown ticking every tick (default 1s).
func NewCountdown(tick time.Duration) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	return &Countdown{tick: tick}
}

// Start runs the countdown for duration. onTick receives the remaining time
// after every tick; onZero runs exactly once, on its own goroutine, when the
// deadline passes. Stopping first means onZero never runs.
func (c *Countdown) Start(ctx context.Context, duration time.Duration, onTick func(remaining time.Duration), onZero func()) error {
	if duration <= 0 {
		return shared.ErrInvalidDuration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.NewDomainError("countdown", "Start", shared.ErrInvalidState, "countdown already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.deadline = time.Now().Add(duration)
	c.running = true
	c.remaining.Store(int64(duration))

	go c.run(runCtx, c.deadline, c.done, onTick, onZero)
	return nil
}

func (c *Countdown) run(ctx context.Context, deadline time.Time, done chan struct{}, onTick func(time.Duration), onZero func()) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	reached := false
	defer func() {
		close(done)
		if reached && onZero != nil {
			go onZero()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		left := time.Until(deadline)
		if left < 0 {
			left = 0
		}
		c.remaining.Store(int64(left))
		if onTick != nil {
			onTick(left)
		}
		if left == 0 {
			// a Stop racing the last tick wins
			reached = ctx.Err() == nil
			return
		}
	}
}

// Stop cancels the countdown and waits for its goroutine. It is idempotent and
// safe to call from onZero.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether a countdown is active. It stays true after zero
// until Stop.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Remaining returns the time left as of the last tick.
func (c *Countdown) Remaining() time.Duration {
	return time.Duration(c.remaining.Load())
}
