// internal/timeout/controller.go
package timeout

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDuration is the window a player has to act before the opponent may
// claim victory by forfeit.
const DefaultDuration = 60 * time.Second

// Controller drives a per-turn countdown. It holds no game knowledge: the
// composing application starts it when the opponent's turn begins and stops
// it on a turn flip or game end. Expiry only unlocks the claim action; the
// claim itself is always an explicit, user-confirmed submission.
type Controller struct {
	log      *logrus.Logger
	duration time.Duration
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	running   bool
	expired   bool
	stop      chan struct{}

	onTick   func(remaining int)
	onExpire func()
}

// NewController creates a countdown with the default 60-second window.
func NewController(log *logrus.Logger) *Controller {
	return newController(log, DefaultDuration, time.Second)
}

func newController(log *logrus.Logger, duration, interval time.Duration) *Controller {
	if log == nil {
		log = logrus.New()
	}
	return &Controller{
		log:      log,
		duration: duration,
		interval: interval,
		now:      time.Now,
	}
}

// OnTick registers a callback receiving the remaining whole seconds once per
// tick.
func (c *Controller) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// OnExpire registers a callback fired once when the countdown reaches zero.
func (c *Controller) OnExpire(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

// Start begins the countdown from now. A running countdown is cancelled
// first, so restarting is always safe and no two tickers coexist.
func (c *Controller) Start() {
	c.mu.Lock()
	c.stopLocked()
	c.startedAt = c.now()
	c.expired = false
	c.running = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	c.log.Debug("turn countdown started")
	go c.run(stop)
}

// Stop cancels the active countdown and clears its start time.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.startedAt = time.Time{}
}

// stopLocked assumes the lock is held by the caller.
func (c *Controller) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.running = false
}

// Running reports whether the countdown is actively ticking.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Expired reports whether the countdown has reached zero without being
// stopped.
func (c *Controller) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Remaining returns the whole seconds left in the current window, zero when
// expired or not started.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

// remainingLocked assumes the lock is held by the caller.
func (c *Controller) remainingLocked() int {
	if c.startedAt.IsZero() {
		return 0
	}
	elapsed := c.now().Sub(c.startedAt)
	left := c.duration - elapsed
	if left < 0 {
		return 0
	}
	return int(left / time.Second)
}

// run ticks until expiry or cancellation.
func (c *Controller) run(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick emits the remaining seconds and handles expiry. Returns true when the
// countdown is done and no further ticks should be scheduled.
func (c *Controller) tick() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	remaining := c.remainingLocked()
	onTick := c.onTick
	var onExpire func()
	done := remaining == 0
	if done {
		c.expired = true
		c.running = false
		c.stop = nil
		onExpire = c.onExpire
	}
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if done {
		c.log.Debug("turn countdown expired")
		if onExpire != nil {
			onExpire()
		}
	}
	return done
}
