// Package backoff restarts a failing operation forever with exponentially
// growing, jittered delays. It assumes transient faults (network partition,
// unavailable broker or store) are the common failure mode and the correct
// response is to wait and retry, not give up. Errors classified fatal are
// the only ones that cross the controller boundary.
package backoff

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

type Config struct {
	Min    time.Duration // first delay, e.g. 1s
	Max    time.Duration // delay cap, e.g. 30s
	Jitter float64       // randomization factor in [0,1), e.g. 0.2

	// ResetOnProgress controls whether the attempt counter drops back to
	// zero when the running operation reports progress via its reset
	// callback. Default true: one successfully committed event is taken as
	// evidence the fault cleared.
	ResetOnProgress bool

	// Classify decides whether an error aborts the loop. If nil, errors
	// wrapped with Permanent are fatal and everything else is retried.
	Classify func(error) Class

	// OnRetry is an optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func DefaultConfig() Config {
	return Config{
		Min:             time.Second,
		Max:             30 * time.Second,
		Jitter:          0.2,
		ResetOnProgress: true,
	}
}

type Controller struct {
	cfg Config
}

func New(cfg Config) *Controller {
	if cfg.Min <= 0 {
		cfg.Min = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Classify == nil {
		cfg.Classify = func(err error) Class {
			if IsPermanent(err) {
				return Fatal
			}
			return Retryable
		}
	}
	return &Controller{cfg: cfg}
}

// Run executes op until it returns nil, returns a fatal error, or ctx is
// cancelled. Every other failure restarts op after the next delay. There is
// no attempt limit. The reset callback handed to op zeroes the attempt
// counter when ResetOnProgress is set; op calls it after each unit of real
// progress.
func (c *Controller) Run(ctx context.Context, op func(ctx context.Context, reset func()) error) error {
	var attempt atomic.Int64

	reset := func() {
		if c.cfg.ResetOnProgress {
			attempt.Store(0)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, reset)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.Classify(err) == Fatal {
			return err
		}

		n := int(attempt.Load())
		wait := c.delay(n)
		attempt.Add(1)

		if c.cfg.OnRetry != nil {
			c.cfg.OnRetry(n, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay computes min(Max, Min*2^n) scaled by a uniform random factor in
// [1-Jitter, 1+Jitter], clamped to [0, Max].
func (c *Controller) delay(attempt int) time.Duration {
	wait := c.cfg.Min
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= c.cfg.Max {
			wait = c.cfg.Max
			break
		}
	}

	if c.cfg.Jitter > 0 {
		factor := 1 + (rand.Float64()*2-1)*c.cfg.Jitter
		wait = time.Duration(float64(wait) * factor)
	}
	if wait < 0 {
		wait = 0
	}
	if wait > c.cfg.Max {
		wait = c.cfg.Max
	}
	return wait
}
