package offset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// FileStore persists one offset file per shard under a base directory.
// Writes go through a tmp file and rename so a crash mid-write never leaves
// a torn record behind.
type FileStore struct {
	dir string

	mu         sync.Mutex
	pipelineID string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("offset: file store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Prepare(ctx context.Context, pipelineID string, shard ShardTag) (Offset, error) {
	s.mu.Lock()
	s.pipelineID = pipelineID
	s.mu.Unlock()
	off, err := s.Load(ctx, shard)
	if err == ErrNotFound {
		return 0, nil
	}
	return off, err
}

func (s *FileStore) Save(_ context.Context, shard ShardTag, off Offset) error {
	path := s.path(shard)
	tmp := path + ".tmp"

	content := strconv.FormatUint(uint64(off), 10) + "\n"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Load(_ context.Context, shard ShardTag) (Offset, error) {
	b, err := os.ReadFile(s.path(shard))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, ErrNotFound
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offset: corrupt record %q: %w", raw, err)
	}
	return Offset(n), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(shard ShardTag) string {
	s.mu.Lock()
	id := s.pipelineID
	s.mu.Unlock()
	name := id + "." + shard.EntityType + "." + shard.Name + ".off"
	return filepath.Join(s.dir, name)
}

var _ Store = (*FileStore)(nil)
