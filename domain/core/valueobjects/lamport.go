package valueobjects

import (
	"sync"
)

// LamportClock is a monotonically increasing logical counter scoped to one
// workflow. It provides a total order consistent with causality: local
// operations take Next(), and every received remote timestamp advances the
// clock past it, so "happened after" comparisons against logged operations
// are always meaningful.
type LamportClock struct {
	mu    sync.Mutex
	value uint64
}

// NewLamportClock creates a clock starting at zero
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Next increments the clock and returns the new value.
// Used to timestamp locally issued operations.
func (c *LamportClock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe merges a remote timestamp: the clock advances to
// max(local, remote) + 1 and the new value is returned.
func (c *LamportClock) Observe(remote uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.value {
		c.value = remote
	}
	c.value++
	return c.value
}

// Value returns the current clock value without advancing it
func (c *LamportClock) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
