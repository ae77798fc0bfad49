// Package sink abstracts the destination of a pipeline: a broker topic or a
// read-side data store. Publish returns only after the destination has
// acknowledged the message; it is safe to commit the offset once it does.
package sink

import (
	"context"
	"time"

	"github.com/luminastream/shardpipe/internal/offset"
)

// Message is one processed event ready for the destination.
type Message struct {
	Key       string // empty when the stage has no key strategy
	Type      string
	Payload   []byte
	Offset    offset.Offset
	Shard     offset.ShardTag
	Timestamp time.Time
}

// Destination names where messages end up, for logs and metrics.
type Destination struct {
	Kind string // "kafka", "postgres"
	Name string // topic or table
}

func (d Destination) String() string { return d.Kind + ":" + d.Name }

// Sink is the pipeline's write side.
//
// Prepare is idempotent and called at the start of every streaming attempt:
// it resolves endpoints, (re)establishes connections, and creates any needed
// persistent structures. Failures are transient; the attempt restarts with
// backoff.
type Sink interface {
	Prepare(ctx context.Context, pipelineID string, shard offset.ShardTag) (Destination, error)
	Publish(ctx context.Context, msg Message) error
	Close() error
}
