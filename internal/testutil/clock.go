package testutil

import "sync"

// HeightClock is a settable height source for tests.
//
// Unlike engine.Clock, HeightClock can move backwards (Set) to simulate a
// reorganized ledger, and can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type HeightClock struct {
	mu     sync.Mutex
	height uint64
}

// NewHeightClock creates a clock at the given height.
func NewHeightClock(start uint64) *HeightClock {
	return &HeightClock{height: start}
}

// Height returns the current height.
func (c *HeightClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Mine advances the height by n and returns the new height.
func (c *HeightClock) Mine(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
	return c.height
}

// Set moves the clock to h, which may be lower than the current height.
func (c *HeightClock) Set(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

// Reset moves the clock back to zero.
func (c *HeightClock) Reset() {
	c.Set(0)
}
