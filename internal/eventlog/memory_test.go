package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminastream/shardpipe/internal/offset"
)

var testShard = offset.ShardTag{EntityType: "user", Name: "user-1"}

func TestMemoryLog_OpensStrictlyAfterOffset(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 1; i <= 5; i++ {
		log.Append(Event{Shard: testShard, Offset: offset.Offset(i)})
	}

	st, err := log.Open(ctx, testShard, 3)
	require.NoError(t, err)

	ev, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, offset.Offset(4), ev.Offset)

	ev, err = st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, offset.Offset(5), ev.Offset)
}

func TestMemoryLog_NextBlocksUntilAppend(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	st, err := log.Open(ctx, testShard, 0)
	require.NoError(t, err)

	got := make(chan Event, 1)
	go func() {
		ev, err := st.Next(ctx)
		if err == nil {
			got <- ev
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any event was appended")
	case <-time.After(20 * time.Millisecond):
	}

	log.Append(Event{Shard: testShard, Offset: 1})

	select {
	case ev := <-got:
		assert.Equal(t, offset.Offset(1), ev.Offset)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after append")
	}
}

func TestMemoryLog_CompleteDrainsThenReportsCompleted(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	log.Append(Event{Shard: testShard, Offset: 1})
	log.Complete(testShard)

	st, err := log.Open(ctx, testShard, 0)
	require.NoError(t, err)

	ev, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, offset.Offset(1), ev.Offset)

	_, err = st.Next(ctx)
	assert.ErrorIs(t, err, ErrCompleted)
}

func TestMemoryLog_NextHonorsContextCancel(t *testing.T) {
	log := NewMemoryLog()
	st, err := log.Open(context.Background(), testShard, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := st.Next(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock on cancellation")
	}
}
