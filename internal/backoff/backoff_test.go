package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySequenceNoJitter(t *testing.T) {
	c := New(Config{Min: time.Second, Max: 30 * time.Second, Jitter: 0})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for n, exp := range want {
		assert.Equal(t, exp, c.delay(n), "attempt %d", n)
	}
}

func TestDelayJitterStaysInBounds(t *testing.T) {
	c := New(Config{Min: time.Second, Max: 30 * time.Second, Jitter: 0.2})

	for n := 0; n < 10; n++ {
		for i := 0; i < 50; i++ {
			d := c.delay(n)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 30*time.Second)
		}
	}
}

func TestDelayLargeAttemptDoesNotOverflow(t *testing.T) {
	c := New(Config{Min: time.Second, Max: 30 * time.Second, Jitter: 0})
	assert.Equal(t, 30*time.Second, c.delay(200))
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	c := New(Config{Min: time.Millisecond, Max: 5 * time.Millisecond, Jitter: 0})

	calls := 0
	err := c.Run(context.Background(), func(ctx context.Context, reset func()) error {
		calls++
		if calls < 4 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRunStopsOnPermanent(t *testing.T) {
	c := New(Config{Min: time.Millisecond, Max: 5 * time.Millisecond, Jitter: 0})

	cause := errors.New("stream completed")
	calls := 0
	err := c.Run(context.Background(), func(ctx context.Context, reset func()) error {
		calls++
		return Permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c := New(Config{Min: time.Hour, Max: time.Hour, Jitter: 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, reset func()) error {
			return errors.New("transient")
		})
	}()

	// The first failure parks the loop in an hour-long delay; cancellation
	// must cut it short.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunResetOnProgress(t *testing.T) {
	c := New(Config{Min: time.Millisecond, Max: 64 * time.Millisecond, Jitter: 0, ResetOnProgress: true})

	var waits []time.Duration
	c.cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		waits = append(waits, wait)
	}

	calls := 0
	err := c.Run(context.Background(), func(ctx context.Context, reset func()) error {
		calls++
		switch calls {
		case 1, 2:
			// two straight failures: delays 1ms then 2ms
			return errors.New("transient")
		case 3:
			// progress, then fail: next delay must drop back to 1ms
			reset()
			return errors.New("transient")
		default:
			return nil
		}
	})
	require.NoError(t, err)
	require.Len(t, waits, 3)
	assert.Equal(t, time.Millisecond, waits[0])
	assert.Equal(t, 2*time.Millisecond, waits[1])
	assert.Equal(t, time.Millisecond, waits[2])
}

func TestRunNoResetWhenDisabled(t *testing.T) {
	c := New(Config{Min: time.Millisecond, Max: 64 * time.Millisecond, Jitter: 0, ResetOnProgress: false})

	var waits []time.Duration
	c.cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		waits = append(waits, wait)
	}

	calls := 0
	err := c.Run(context.Background(), func(ctx context.Context, reset func()) error {
		calls++
		if calls <= 3 {
			reset() // ignored: ResetOnProgress is off
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, waits, 3)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestPermanentNilIsNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
}
