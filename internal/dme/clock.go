package dme

import "sync"

// LogicalClock is a Lamport clock, safe for concurrent use. It is the leaf
// lock in the mutex's lock order: acquired and released independently,
// never held across a network send.
type LogicalClock struct {
	mu   sync.Mutex
	time uint64
}

// Tick increments the clock for a local event (entering RequestCS) and
// returns the new value.
func (c *LogicalClock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Witness applies the receive rule: clock <- max(clock, received) + 1. It
// must be called before any decision is made based on the received message.
func (c *LogicalClock) Witness(received uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.time {
		c.time = received
	}
	c.time++
	return c.time
}

// Value returns the current clock value without advancing it.
func (c *LogicalClock) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
