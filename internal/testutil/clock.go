package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a WallClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// WallClock is a deterministic wall clock for tests. Every call to Now
// returns the current instant and then advances it by one step, so
// successive readings are strictly increasing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type WallClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewWallClock creates a clock at start that advances by step per reading.
// A non-positive step defaults to one minute.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	if step <= 0 {
		step = time.Minute
	}
	return &WallClock{start: start.UTC(), now: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next call to Now will return.
func (c *WallClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its start.
func (c *WallClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
