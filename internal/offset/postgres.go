package offset

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps offsets in a single upserted table, one row per
// (pipeline, shard). Suited as the shared offset store when the read side
// already lives in Postgres.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool

	mu         sync.Mutex
	pipelineID string
}

func (s *PostgresStore) pipeline() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineID
}

// NewPostgresStore opens its own connection pool from a DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, ownsDB: true}, nil
}

// NewPostgresStoreWithDB shares an existing pool, e.g. with a read-side sink
// writing to the same database.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Prepare(ctx context.Context, pipelineID string, shard ShardTag) (Offset, error) {
	s.mu.Lock()
	s.pipelineID = pipelineID
	s.mu.Unlock()

	const ddl = `
CREATE TABLE IF NOT EXISTS pipeline_offsets (
  pipeline_id text   NOT NULL,
  entity_type text   NOT NULL,
  shard_name  text   NOT NULL,
  last_offset bigint NOT NULL,
  updated_at  timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (pipeline_id, entity_type, shard_name)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return 0, err
	}

	off, err := s.Load(ctx, shard)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return off, err
}

func (s *PostgresStore) Save(ctx context.Context, shard ShardTag, off Offset) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_offsets (pipeline_id, entity_type, shard_name, last_offset, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (pipeline_id, entity_type, shard_name)
DO UPDATE SET last_offset = EXCLUDED.last_offset, updated_at = now()`,
		s.pipeline(), shard.EntityType, shard.Name, int64(off),
	)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, shard ShardTag) (Offset, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
SELECT last_offset FROM pipeline_offsets
WHERE pipeline_id = $1 AND entity_type = $2 AND shard_name = $3`,
		s.pipeline(), shard.EntityType, shard.Name,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return Offset(last), nil
}

func (s *PostgresStore) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
