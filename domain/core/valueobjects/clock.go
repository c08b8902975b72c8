package valueobjects

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing creation timestamps. Wall time is used
// when it moves forward; otherwise the previous value is bumped by a
// nanosecond so that two nodes created in the same instant still order.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a clock backed by time.Now
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource returns a clock backed by the given time source.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns a timestamp strictly after every timestamp previously
// returned or observed.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// Observe advances the clock past t, used when restoring saved nodes.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}
