package pipeline

import (
	"context"

	"github.com/luminastream/shardpipe/internal/eventlog"
	"github.com/luminastream/shardpipe/internal/sink"
)

// Stage is the user-supplied transform between the event log and the sink.
// Returning ErrSkip drops the event while still committing its offset. Any
// other error crashes the worker unless wrapped with Transient.
type Stage interface {
	Process(ctx context.Context, ev eventlog.Event) (sink.Message, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, ev eventlog.Event) (sink.Message, error)

func (f StageFunc) Process(ctx context.Context, ev eventlog.Event) (sink.Message, error) {
	return f(ctx, ev)
}

// KeyExtractor decides the partition key for a produced message. The second
// return value is false when the event carries no key, which leaves
// partitioning to the broker.
type KeyExtractor interface {
	Key(ev eventlog.Event) (string, bool)
}

// KeyFunc adapts a function to KeyExtractor.
type KeyFunc func(ev eventlog.Event) (string, bool)

func (f KeyFunc) Key(ev eventlog.Event) (string, bool) { return f(ev) }

// NoKey is the explicit "no key strategy" variant.
type NoKey struct{}

func (NoKey) Key(eventlog.Event) (string, bool) { return "", false }

// PassThrough builds a stage that forwards event payloads unchanged, keyed
// by the given extractor. The default stage for producer pipelines that only
// move events onto a topic.
func PassThrough(keys KeyExtractor) Stage {
	if keys == nil {
		keys = NoKey{}
	}
	return StageFunc(func(_ context.Context, ev eventlog.Event) (sink.Message, error) {
		msg := sink.Message{
			Type:      ev.Type,
			Payload:   ev.Payload,
			Offset:    ev.Offset,
			Shard:     ev.Shard,
			Timestamp: ev.Timestamp,
		}
		if k, ok := keys.Key(ev); ok {
			msg.Key = k
		}
		return msg, nil
	})
}
