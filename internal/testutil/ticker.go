package testutil

import (
	"sync"
	"time"
)

// ManualTicker is a ticker that only fires when Tick is called. It satisfies
// the engine's Ticker interface.
type ManualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	resets  int
	period  time.Duration
	stopped bool
}

// NewManualTicker creates a ticker that never fires on its own.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, 1)}
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time {
	return t.ch
}

// Reset records a period restart.
func (t *ManualTicker) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	t.period = d
}

// Stop marks the ticker stopped. Later ticks are ignored.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Tick fires one tick. It blocks while a previous tick is still unread.
// Returns false if the ticker was stopped.
func (t *ManualTicker) Tick() bool {
	if t.Stopped() {
		return false
	}
	t.ch <- time.Time{}
	return true
}

// Resets returns how many times the period was restarted.
func (t *ManualTicker) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Period returns the last period passed to Reset.
func (t *ManualTicker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
