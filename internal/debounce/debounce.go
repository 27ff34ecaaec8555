// Package debounce coalesces bursts of notifications into a single delayed
// callback carrying the most recent value.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay is the quiet period used when New is given a non-positive delay.
const DefaultDelay = 300 * time.Millisecond

// timer is the subset of *time.Timer the coalescer needs.
type timer interface {
	Stop() bool
}

// Coalescer delays fn until no Notify has arrived for the configured delay,
// then calls it once with the last value passed to Notify. Earlier values in
// the burst are dropped.
type Coalescer[T any] struct {
	delay time.Duration
	fn    func(T)

	// afterFunc is time.AfterFunc outside of tests.
	afterFunc func(time.Duration, func()) timer

	mu      sync.Mutex
	timer   timer
	latest  T
	gen     uint64
	pending bool
	stopped bool
}

// New returns a coalescer that calls fn after delay of quiet.
func New[T any](delay time.Duration, fn func(T)) *Coalescer[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Coalescer[T]{
		delay: delay,
		fn:    fn,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// Delay returns the quiet period.
func (c *Coalescer[T]) Delay() time.Duration { return c.delay }

// Notify records v as the latest value and restarts the quiet period.
// It is ignored after Stop.
func (c *Coalescer[T]) Notify(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.latest = v
	c.pending = true
	c.timer = c.afterFunc(c.delay, func() { c.fire(gen) })
}

// fire runs fn if gen is still the newest timer. A timer that Stop failed to
// cancel (because it had already started) finds a newer generation and exits.
func (c *Coalescer[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || !c.pending {
		c.mu.Unlock()
		return
	}
	v := c.latest
	var zero T
	c.latest = zero
	c.pending = false
	c.timer = nil
	c.mu.Unlock()

	c.fn(v)
}

// Flush fires immediately if a value is pending. It reports whether fn ran.
func (c *Coalescer[T]) Flush() bool {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	v := c.latest
	var zero T
	c.latest = zero
	c.pending = false
	c.mu.Unlock()

	c.fn(v)
	return true
}

// Cancel drops the pending value, if any. Unlike Stop, later calls to
// Notify schedule normally.
func (c *Coalescer[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.pending = false
	var zero T
	c.latest = zero
}

// Pending reports whether a callback is scheduled.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Stop cancels any pending callback. Notify is ignored afterwards. Safe to
// call more than once.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.pending = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var zero T
	c.latest = zero
}
