package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manually driven time source. With a non-zero step every call to
// Now moves the clock forward, which keeps MarkedAt stamps distinct.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// NewSteppingClock returns a clock that advances by step after each reading.
func NewSteppingClock(start time.Time, step time.Duration) *Clock {
	clock := NewClock(start)
	clock.step = step
	return clock
}

// Now returns the clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// NowFunc adapts Now to the func() time.Time the services take.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Today returns the clock date at UTC midnight, the form lecture dates are stored in.
func (c *Clock) Today() time.Time {
	c.mu.Lock()
	y, m, d := c.current.UTC().Date()
	c.mu.Unlock()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
