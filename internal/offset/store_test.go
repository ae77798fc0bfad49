package offset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FreshShardStartsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	shard := ShardTag{EntityType: "user", Name: "user-42"}

	off, err := s.Prepare(ctx, "producer-1", shard)
	require.NoError(t, err)
	assert.Equal(t, Offset(0), off)

	_, err = s.Load(ctx, shard)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	shard := ShardTag{EntityType: "user", Name: "user-42"}

	_, err := s.Prepare(ctx, "producer-1", shard)
	require.NoError(t, err)

	for i := Offset(1); i <= 5; i++ {
		require.NoError(t, s.Save(ctx, shard, i))
	}

	off, err := s.Load(ctx, shard)
	require.NoError(t, err)
	assert.Equal(t, Offset(5), off)
}

func TestMemoryStore_ShardsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := ShardTag{EntityType: "order", Name: "a"}
	b := ShardTag{EntityType: "order", Name: "b"}

	require.NoError(t, s.Save(ctx, a, 10))
	require.NoError(t, s.Save(ctx, b, 3))

	offA, err := s.Load(ctx, a)
	require.NoError(t, err)
	offB, err := s.Load(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, Offset(10), offA)
	assert.Equal(t, Offset(3), offB)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	shard := ShardTag{EntityType: "order", Name: "shard-3"}

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	off, err := s.Prepare(ctx, "projector-1", shard)
	require.NoError(t, err)
	assert.Equal(t, Offset(0), off)

	require.NoError(t, s.Save(ctx, shard, 7))
	require.NoError(t, s.Save(ctx, shard, 8))

	off, err = s.Load(ctx, shard)
	require.NoError(t, err)
	assert.Equal(t, Offset(8), off)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	shard := ShardTag{EntityType: "order", Name: "shard-3"}

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = s.Prepare(ctx, "projector-1", shard)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, shard, 123))

	// A restarted worker sees the previous record through Prepare.
	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	off, err := s2.Prepare(ctx, "projector-1", shard)
	require.NoError(t, err)
	assert.Equal(t, Offset(123), off)
}

func TestShardTagString(t *testing.T) {
	tag := ShardTag{EntityType: "user", Name: "user-42"}
	assert.Equal(t, "user/user-42", tag.String())
}
