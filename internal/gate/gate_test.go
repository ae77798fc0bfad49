package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsOnce(t *testing.T) {
	var runs atomic.Int64
	g := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, g.Execute(ctx))
	require.NoError(t, g.Execute(ctx))
	require.NoError(t, g.Execute(ctx))
	assert.Equal(t, int64(1), runs.Load())
}

func TestExecuteCoalescesConcurrentCallers(t *testing.T) {
	var runs atomic.Int64
	release := make(chan struct{})
	g := New(func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}, nil)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Execute(context.Background())
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), runs.Load(), "many shards, one execution")
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestExecuteFailureIsNotRecorded(t *testing.T) {
	var runs atomic.Int64
	g := New(func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("topic create failed")
		}
		return nil
	}, nil)

	ctx := context.Background()
	assert.Error(t, g.Execute(ctx))
	assert.NoError(t, g.Execute(ctx))
	assert.Equal(t, int64(2), runs.Load())
}

func TestFileFlagSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/prepared.flag"

	var runs atomic.Int64
	prepare := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}

	f1, err := NewFileFlag(path)
	require.NoError(t, err)
	require.NoError(t, New(prepare, f1).Execute(context.Background()))

	// simulated process restart
	f2, err := NewFileFlag(path)
	require.NoError(t, err)
	require.NoError(t, New(prepare, f2).Execute(context.Background()))

	assert.Equal(t, int64(1), runs.Load())
}
