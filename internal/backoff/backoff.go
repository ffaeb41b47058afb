// Package backoff computes reconnect delays that double on every failed
// connection cycle, bounded to [min, max].
package backoff

import (
	"sync"
	"time"
)

// Backoff is safe for concurrent use.
type Backoff struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	current time.Duration
}

// New returns a Backoff starting at lo and capped at hi.
func New(lo, hi time.Duration) *Backoff {
	b := &Backoff{}
	b.Configure(lo, hi)
	return b
}

// Configure replaces both bounds and resets the sequence. A ceiling below
// the floor is raised to the floor.
func (b *Backoff) Configure(lo, hi time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.min = max(lo, 0)
	b.max = max(hi, b.min)
	b.current = b.min
}

// Next returns the current delay and advances to min(current*2, max),
// never below min.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current = b.double(d)
	return d
}

// Reset restarts the sequence at min.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = b.min
	b.mu.Unlock()
}

func (b *Backoff) double(d time.Duration) time.Duration {
	if d > b.max/2 {
		return b.max
	}
	return min(max(d*2, b.min), b.max)
}
