package engine

import "sync/atomic"

// Clock is the monotonic execution height seen by the keeper.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the Engine's single-writer design means only one goroutine
// typically advances it.
type Clock struct {
	height atomic.Uint64
}

// NewClock creates a new clock at height 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock at a specific height.
// Used to resume from the last height a keeper saw.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.height.Store(start)
	return c
}

// Next advances the height by one and returns it.
func (c *Clock) Next() uint64 {
	return c.height.Add(1)
}

// Advance moves the height forward by n and returns it.
func (c *Clock) Advance(n uint64) uint64 {
	return c.height.Add(n)
}

// Height returns the current height. Implements keeper.HeightSource.
func (c *Clock) Height() uint64 {
	return c.height.Load()
}
