package engine

import "sync/atomic"

// Clock hands out increasing sequence numbers for the engine loop.
//
// Every conversation or thread fetch takes a number when it is issued, and so
// does every mark-read. A response that settles with a number below the last
// applied one is stale and is dropped.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the following sequence number. Safe for concurrent use.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
