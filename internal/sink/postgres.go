package sink

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/luminastream/shardpipe/internal/offset"
)

// PostgresSink writes processed events into a read-side table. Inserts are
// keyed on (pipeline, shard, offset) with ON CONFLICT DO NOTHING, so the
// re-delivery inherent to at-least-once never duplicates a row.
type PostgresSink struct {
	db     *sql.DB
	ownsDB bool
	table  string

	mu         sync.Mutex
	pipelineID string
}

func (s *PostgresSink) pipeline() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineID
}

type PostgresConfig struct {
	DSN   string
	Table string // default "projected_events"
}

func NewPostgresSink(cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.Table == "" {
		cfg.Table = "projected_events"
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresSink{db: db, ownsDB: true, table: cfg.Table}, nil
}

// NewPostgresSinkWithDB shares an existing pool, typically with the offset
// store pointing at the same database.
func NewPostgresSinkWithDB(db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = "projected_events"
	}
	return &PostgresSink{db: db, table: table}
}

// DB exposes the pool so an offset store can share it.
func (s *PostgresSink) DB() *sql.DB { return s.db }

func (s *PostgresSink) Prepare(ctx context.Context, pipelineID string, _ offset.ShardTag) (Destination, error) {
	s.mu.Lock()
	s.pipelineID = pipelineID
	s.mu.Unlock()

	ddl := `
CREATE TABLE IF NOT EXISTS ` + s.table + ` (
  pipeline_id text        NOT NULL,
  entity_type text        NOT NULL,
  shard_name  text        NOT NULL,
  seq         bigint      NOT NULL,
  event_type  text        NOT NULL,
  msg_key     text        NOT NULL DEFAULT '',
  payload     bytea       NOT NULL,
  occurred_at timestamptz NOT NULL,
  written_at  timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (pipeline_id, entity_type, shard_name, seq)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return Destination{}, err
	}
	return Destination{Kind: "postgres", Name: s.table}, nil
}

func (s *PostgresSink) Publish(ctx context.Context, msg Message) error {
	id := s.pipeline()
	if id == "" {
		return errors.New("postgres sink: not prepared")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO `+s.table+` (pipeline_id, entity_type, shard_name, seq, event_type, msg_key, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (pipeline_id, entity_type, shard_name, seq) DO NOTHING`,
		id, msg.Shard.EntityType, msg.Shard.Name, int64(msg.Offset),
		msg.Type, msg.Key, msg.Payload, msg.Timestamp,
	)
	return err
}

func (s *PostgresSink) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Sink = (*PostgresSink)(nil)
