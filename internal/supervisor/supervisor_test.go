package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminastream/shardpipe/internal/backoff"
	"github.com/luminastream/shardpipe/internal/eventlog"
	"github.com/luminastream/shardpipe/internal/gate"
	"github.com/luminastream/shardpipe/internal/offset"
	"github.com/luminastream/shardpipe/internal/pipeline"
	"github.com/luminastream/shardpipe/internal/sink"
)

var shard = offset.ShardTag{EntityType: "order", Name: "shard-0"}

type countingSink struct{ published atomic.Int64 }

func (s *countingSink) Prepare(context.Context, string, offset.ShardTag) (sink.Destination, error) {
	return sink.Destination{Kind: "fake", Name: "count"}, nil
}
func (s *countingSink) Publish(context.Context, sink.Message) error {
	s.published.Add(1)
	return nil
}
func (s *countingSink) Close() error { return nil }

func buildFactory(log *eventlog.MemoryLog, store *offset.MemoryStore, snk sink.Sink, builds *atomic.Int64) Factory {
	return func(ctx context.Context) (*pipeline.Worker, error) {
		builds.Add(1)
		return pipeline.NewWorker(pipeline.Config{
			PipelineID: "proj-1",
			Shard:      shard,
			Backoff:    backoff.Config{Min: time.Millisecond, Max: 5 * time.Millisecond},
		}, pipeline.Deps{
			Gate:    gate.New(func(context.Context) error { return nil }, nil),
			Cursor:  log,
			Offsets: store,
			Sink:    snk,
			Log:     zap.NewNop(),
		})
	}
}

func TestSupervisorRestartsCrashedWorker(t *testing.T) {
	elog := eventlog.NewMemoryLog()
	store := offset.NewMemoryStore()
	snk := &countingSink{}

	// the first generation crashes on natural stream completion
	elog.Append(eventlog.Event{Shard: shard, Offset: 1})
	elog.Complete(shard)

	var builds atomic.Int64
	sup := New(zap.NewNop())
	sup.Add(Spec{
		Name:         "proj-1/" + shard.String(),
		Build:        buildFactory(elog, store, snk, &builds),
		RestartDelay: 5 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return builds.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "crashed worker must be rebuilt")

	sup.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisorStopDrainsWorkers(t *testing.T) {
	elog := eventlog.NewMemoryLog()
	store := offset.NewMemoryStore()
	snk := &countingSink{}
	for i := 1; i <= 3; i++ {
		elog.Append(eventlog.Event{Shard: shard, Offset: offset.Offset(i)})
	}

	var builds atomic.Int64
	sup := New(zap.NewNop())
	sup.Add(Spec{
		Name:  "proj-1/" + shard.String(),
		Build: buildFactory(elog, store, snk, &builds),
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		off, err := store.Load(context.Background(), shard)
		return err == nil && off == 3
	}, 2*time.Second, 5*time.Millisecond)

	sup.Stop()
	sup.Stop() // idempotent
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not drain")
	}
	assert.Equal(t, int64(1), builds.Load())
}

func TestSupervisorRetriesFailedBuild(t *testing.T) {
	elog := eventlog.NewMemoryLog()
	store := offset.NewMemoryStore()
	snk := &countingSink{}
	elog.Append(eventlog.Event{Shard: shard, Offset: 1})

	var builds atomic.Int64
	inner := buildFactory(elog, store, snk, &builds)
	flaky := func(ctx context.Context) (*pipeline.Worker, error) {
		if builds.Add(1) == 1 {
			return nil, context.DeadlineExceeded
		}
		return inner(ctx)
	}

	sup := New(zap.NewNop())
	sup.Add(Spec{Name: "flaky", Build: flaky, RestartDelay: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		off, err := store.Load(context.Background(), shard)
		return err == nil && off == 1
	}, 2*time.Second, 5*time.Millisecond)

	sup.Stop()
	<-done
}
