//go:build cgo

package offset

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/tecbot/gorocksdb"
)

// RocksStore keeps offsets in a local RocksDB instance. One key per
// (pipeline, shard), value is the offset big-endian encoded. Suited for
// single-node deployments where the sink is remote but progress should
// survive restarts without an external store.
type RocksStore struct {
	db *gorocksdb.DB
	ro *gorocksdb.ReadOptions
	wo *gorocksdb.WriteOptions

	mu         sync.Mutex
	pipelineID string
}

func OpenRocksStore(path string) (*RocksStore, error) {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, err
	}

	wo := gorocksdb.NewDefaultWriteOptions()
	// Offsets gate re-delivery after a crash; fsync each commit.
	wo.SetSync(true)

	return &RocksStore{
		db: db,
		ro: gorocksdb.NewDefaultReadOptions(),
		wo: wo,
	}, nil
}

func (s *RocksStore) Prepare(ctx context.Context, pipelineID string, shard ShardTag) (Offset, error) {
	s.mu.Lock()
	s.pipelineID = pipelineID
	s.mu.Unlock()
	off, err := s.Load(ctx, shard)
	if err == ErrNotFound {
		return 0, nil
	}
	return off, err
}

func (s *RocksStore) Save(_ context.Context, shard ShardTag, off Offset) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(off))
	return s.db.Put(s.wo, s.key(shard), buf[:])
}

func (s *RocksStore) Load(_ context.Context, shard ShardTag) (Offset, error) {
	val, err := s.db.Get(s.ro, s.key(shard))
	if err != nil {
		return 0, err
	}
	defer val.Free()

	if !val.Exists() || len(val.Data()) < 8 {
		return 0, ErrNotFound
	}
	return Offset(binary.BigEndian.Uint64(val.Data()[:8])), nil
}

func (s *RocksStore) Close() error {
	if s.ro != nil {
		s.ro.Destroy()
	}
	if s.wo != nil {
		s.wo.Destroy()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *RocksStore) key(shard ShardTag) []byte {
	s.mu.Lock()
	id := s.pipelineID
	s.mu.Unlock()
	k := make([]byte, 0, 4+len(id)+1+len(shard.EntityType)+1+len(shard.Name))
	k = append(k, 'o', 'f', 'f', ':')
	k = append(k, id...)
	k = append(k, ':')
	k = append(k, shard.EntityType...)
	k = append(k, ':')
	k = append(k, shard.Name...)
	return k
}

var _ Store = (*RocksStore)(nil)
