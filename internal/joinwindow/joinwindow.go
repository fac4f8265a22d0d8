// Package joinwindow controls whether new devices may pair with the
// network. The window is Closed by default, opened for a bounded duration
// by an explicit operator command, and never persisted: a restart always
// comes up Closed.
package joinwindow

import (
	"errors"
	"sync"
	"time"
)

// maxDuration caps how long a single window may stay open. Matches the
// longest permit-join interval a coordinator accepts.
const maxDuration = 254 * time.Second

// ErrInvalidDuration is returned when Open is called with a non-positive
// duration.
var ErrInvalidDuration = errors.New("joinwindow: invalid duration")

// Status is a snapshot of the window state.
type Status struct {
	Open      bool
	Remaining time.Duration
	Allowlist []string
}

// Observer is notified on every open/close transition, including an Open
// that replaces an already-open window. Called without internal locks held;
// implementations may call back into the controller.
type Observer func(status Status)

// Controller is the pairing gate. Safe for concurrent use.
//
// Open replaces any previous window outright: the last call wins, whether
// it lengthens or shortens the remaining time.
type Controller struct {
	mu        sync.Mutex
	open      bool
	deadline  time.Time
	allowlist map[string]struct{}
	timer     *time.Timer
	gen       uint64

	observer Observer
}

// New creates a closed controller.
func New() *Controller {
	return &Controller{}
}

// SetObserver installs the transition observer. Must be called before
// concurrent use.
func (c *Controller) SetObserver(fn Observer) {
	c.observer = fn
}

// Open opens the window for the given duration, optionally restricted to
// the listed addresses. An empty allowlist admits any device. Replaces any
// window already open.
func (c *Controller) Open(duration time.Duration, allowlist []string) error {
	if duration <= 0 {
		return ErrInvalidDuration
	}
	if duration > maxDuration {
		duration = maxDuration
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen

	c.open = true
	c.deadline = time.Now().Add(duration)
	c.allowlist = nil
	if len(allowlist) > 0 {
		c.allowlist = make(map[string]struct{}, len(allowlist))
		for _, addr := range allowlist {
			c.allowlist[addr] = struct{}{}
		}
	}

	c.timer = time.AfterFunc(duration, func() {
		c.expire(gen)
	})
	status := c.statusLocked()
	c.mu.Unlock()

	c.notify(status)
	return nil
}

// Close closes the window immediately. Closing an already-closed window is
// a no-op and produces no notification.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.closeLocked()
	status := c.statusLocked()
	c.mu.Unlock()

	c.notify(status)
}

// expire is the auto-close path. The generation check discards timers from
// windows that have since been replaced.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.open {
		c.mu.Unlock()
		return
	}
	c.closeLocked()
	status := c.statusLocked()
	c.mu.Unlock()

	c.notify(status)
}

// closeLocked resets window state. Caller holds c.mu.
func (c *Controller) closeLocked() {
	c.open = false
	c.deadline = time.Time{}
	c.allowlist = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// IsOpen reports whether the window currently admits devices.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Remaining returns how long the window stays open, or zero when closed.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0
	}
	remaining := time.Until(c.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Allows reports whether a join request from addr should be admitted:
// the window is open and the allowlist is empty or contains addr.
func (c *Controller) Allows(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return false
	}
	if len(c.allowlist) == 0 {
		return true
	}
	_, ok := c.allowlist[addr]
	return ok
}

// CurrentStatus returns a snapshot of the window.
func (c *Controller) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// statusLocked builds a snapshot. Caller holds c.mu.
func (c *Controller) statusLocked() Status {
	status := Status{Open: c.open}
	if c.open {
		if remaining := time.Until(c.deadline); remaining > 0 {
			status.Remaining = remaining
		}
		if len(c.allowlist) > 0 {
			status.Allowlist = make([]string, 0, len(c.allowlist))
			for addr := range c.allowlist {
				status.Allowlist = append(status.Allowlist, addr)
			}
		}
	}
	return status
}

// notify invokes the observer outside the lock.
func (c *Controller) notify(status Status) {
	if c.observer != nil {
		c.observer(status)
	}
}
