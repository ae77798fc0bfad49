package offset

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no record exists for a shard yet.
var ErrNotFound = errors.New("offset: record not found")

// ShardTag identifies one partition of the event log: an entity type plus a
// tag name (e.g. "order" / "shard-7"). Used as a routing and persistence key.
type ShardTag struct {
	EntityType string
	Name       string
}

func (t ShardTag) String() string {
	return t.EntityType + "/" + t.Name
}

// Offset is an opaque position inside one shard's stream. Offsets are
// comparable only within the same shard. The zero value means "from the
// start": streams open strictly after the given offset, so resuming from
// zero replays the shard from its first event.
type Offset uint64

func (o Offset) String() string { return fmt.Sprintf("%d", uint64(o)) }

// Record is the persisted (pipeline, shard) -> offset mapping. One record
// per pair, upserted, never versioned. It outlives any single worker: a
// restarted worker resumes from the latest record.
type Record struct {
	PipelineID string
	Shard      ShardTag
	Offset     Offset
}

// Store persists pipeline progress per shard.
//
// Prepare is idempotent: it creates whatever persistent structures the store
// needs and returns the last committed offset for the shard (zero when none
// exists). A Prepare or Save failure signals a transient condition: the
// caller restarts the streaming attempt rather than swallowing the error,
// since a swallowed Save would lose progress on the next reload.
type Store interface {
	Prepare(ctx context.Context, pipelineID string, shard ShardTag) (Offset, error)
	Save(ctx context.Context, shard ShardTag, off Offset) error
	Load(ctx context.Context, shard ShardTag) (Offset, error)
	Close() error
}
