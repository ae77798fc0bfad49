package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/luminastream/shardpipe/internal/offset"
)

// ErrCompleted is returned by Stream.Next when the underlying log reports
// natural completion. A live event log never ends, so callers treat this as
// a fatal condition rather than retrying.
var ErrCompleted = errors.New("eventlog: stream completed")

// Event is one entry of a shard's durably-ordered log.
type Event struct {
	Shard     offset.ShardTag
	Offset    offset.Offset
	Type      string
	Payload   []byte
	Timestamp time.Time
}

// Cursor opens ordered, restartable streams over one shard of the log.
// Opening with after=0 replays the shard from its first event; any
// previously-seen offset is a valid restart point.
type Cursor interface {
	Open(ctx context.Context, shard offset.ShardTag, after offset.Offset) (Stream, error)
}

// Stream is a lazy, unbounded sequence of events. Next blocks until an event
// is available, the context is cancelled, or the log completes. Consumers
// pull one event at a time; not pulling is the back-pressure signal.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}
