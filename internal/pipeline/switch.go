package pipeline

import (
	"context"
	"sync"
)

// Switch is the cancellation handle for one streaming attempt. It is owned
// by the worker that created it: Kill is idempotent and is invoked on every
// attempt exit path (clean stop, crash, restart for backoff) so the
// underlying stream is never leaked. Done resolves once the attempt has
// unwound; no events are delivered after that.
type Switch struct {
	cancel context.CancelFunc
	kill   sync.Once
	settle sync.Once
	done   chan struct{}
}

// NewSwitch derives the attempt context and its switch from parent.
func NewSwitch(parent context.Context) (context.Context, *Switch) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &Switch{cancel: cancel, done: make(chan struct{})}
}

// Kill cancels the attempt. Safe to call multiple times and from any
// goroutine; calls after the first are no-ops.
func (s *Switch) Kill() {
	s.kill.Do(s.cancel)
}

// Done is closed when the attempt has fully unwound.
func (s *Switch) Done() <-chan struct{} { return s.done }

// finish marks the attempt as unwound. Called by the owning worker exactly
// when the attempt function returns.
func (s *Switch) finish() {
	s.settle.Do(func() { close(s.done) })
}
