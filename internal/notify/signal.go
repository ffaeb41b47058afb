// Package notify provides broadcast notification primitives.
package notify

import (
	"context"
	"sync"
)

// Signal is a payload-free broadcast. Callers wait on C(), and any call to
// Notify() wakes all waiters by closing the channel and creating a fresh one.
// A wakeup says only that something changed; waiters re-check their own
// condition.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify() call.
// Callers should re-call C() after each wakeup to get the next channel.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Until blocks until check reports done, returning check's error, or until
// ctx ends, returning ctx.Err(). check runs once up front and again after
// every Notify. The wakeup channel is captured before each check, so a
// Notify racing with the check is never lost.
func (s *Signal) Until(ctx context.Context, check func() (bool, error)) error {
	for {
		ch := s.C()
		if done, err := check(); done || err != nil {
			return err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
