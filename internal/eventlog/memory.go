package eventlog

import (
	"context"
	"sync"

	"github.com/luminastream/shardpipe/internal/offset"
)

// MemoryLog is an in-process event log keyed by shard. Appended events are
// retained forever so any stream can restart from any offset. Used in tests
// and local demos in place of a real event store.
type MemoryLog struct {
	mu        sync.Mutex
	shards    map[offset.ShardTag][]Event
	completed map[offset.ShardTag]bool
	wake      chan struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		shards:    map[offset.ShardTag][]Event{},
		completed: map[offset.ShardTag]bool{},
		wake:      make(chan struct{}),
	}
}

// Append adds an event to its shard and wakes blocked readers. The caller
// assigns offsets; they must be strictly increasing per shard.
func (l *MemoryLog) Append(ev Event) {
	l.mu.Lock()
	l.shards[ev.Shard] = append(l.shards[ev.Shard], ev)
	l.broadcastLocked()
	l.mu.Unlock()
}

// Complete marks a shard's log as finished. Streams drain remaining events
// and then report ErrCompleted. Real logs never complete; tests use this to
// exercise the fatal completion path.
func (l *MemoryLog) Complete(shard offset.ShardTag) {
	l.mu.Lock()
	l.completed[shard] = true
	l.broadcastLocked()
	l.mu.Unlock()
}

func (l *MemoryLog) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

func (l *MemoryLog) Open(_ context.Context, shard offset.ShardTag, after offset.Offset) (Stream, error) {
	return &memoryStream{log: l, shard: shard, after: after}, nil
}

type memoryStream struct {
	log    *MemoryLog
	shard  offset.ShardTag
	after  offset.Offset
	closed bool
}

func (s *memoryStream) Next(ctx context.Context) (Event, error) {
	for {
		s.log.mu.Lock()
		if s.closed {
			s.log.mu.Unlock()
			return Event{}, ErrCompleted
		}
		for _, ev := range s.log.shards[s.shard] {
			if ev.Offset > s.after {
				s.after = ev.Offset
				s.log.mu.Unlock()
				return ev, nil
			}
		}
		if s.log.completed[s.shard] {
			s.log.mu.Unlock()
			return Event{}, ErrCompleted
		}
		wake := s.log.wake
		s.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wake:
		}
	}
}

func (s *memoryStream) Close() error {
	s.log.mu.Lock()
	s.closed = true
	s.log.mu.Unlock()
	return nil
}

var _ Cursor = (*MemoryLog)(nil)
