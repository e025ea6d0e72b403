package engine

import "time"

// Ticker drives the synchronization loop. It is abstracted so tests can fire
// ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// TickerFactory creates the loop's ticker.
type TickerFactory func(period time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker is the production TickerFactory.
func NewTimeTicker(period time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(period)}
}

func (t *timeTicker) C() <-chan time.Time   { return t.t.C }
func (t *timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
func (t *timeTicker) Stop()                 { t.t.Stop() }
