// Package lamport implements a Lamport logical clock that is safe for
// concurrent use.
//
// Two rules govern the clock:
//
//	Tick (local event): increment the clock and return the new value.
//	Observe (message receipt): on receiving timestamp t, set the clock to
//	max(own, t) + 1 and return the new value.
//
// Both operations are linearizable, so interleaved calls from many
// goroutines produce the same value as some serial ordering of them.
package lamport

import "sync"

// Clock is a Lamport logical clock. The zero value is ready to use and
// starts at 0.
type Clock struct {
	mu    sync.Mutex
	value int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific value.
func NewClockAt(start int64) *Clock {
	return &Clock{value: start}
}

// Tick advances the clock for a locally originated event and returns the
// new value.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe merges a received timestamp into the clock and returns the new
// value.
func (c *Clock) Observe(received int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.value {
		c.value = received
	}
	c.value++
	return c.value
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Less reports whether event (tsA, idA) precedes event (tsB, idB) in the
// Lamport total order. Ties on the timestamp are broken by comparing ids.
func Less(tsA int64, idA string, tsB int64, idB string) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return idA < idB
}
