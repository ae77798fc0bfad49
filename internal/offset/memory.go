package offset

import (
	"context"
	"sync"
)

// MemoryStore keeps offsets in process memory. Useful for tests and for
// pipelines whose sink already carries the offset durably.
type MemoryStore struct {
	mu         sync.RWMutex
	pipelineID string
	m          map[ShardTag]Offset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[ShardTag]Offset{}}
}

func (s *MemoryStore) Prepare(_ context.Context, pipelineID string, shard ShardTag) (Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelineID = pipelineID
	return s.m[shard], nil
}

func (s *MemoryStore) Save(_ context.Context, shard ShardTag, off Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[shard] = off
	return nil
}

func (s *MemoryStore) Load(_ context.Context, shard ShardTag) (Offset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off, ok := s.m[shard]
	if !ok {
		return 0, ErrNotFound
	}
	return off, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
