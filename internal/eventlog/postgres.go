package eventlog

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/luminastream/shardpipe/internal/offset"
)

// PostgresCursor tails an append-only events table by polling. The table is
// expected to carry (entity_type, shard_name, seq, event_type, payload,
// occurred_at) with seq strictly increasing per shard, which makes seq the
// shard offset.
type PostgresCursor struct {
	db        *sql.DB
	table     string
	batchSize int
	idleSleep time.Duration
}

type PostgresCursorConfig struct {
	DSN       string
	Table     string        // default "events"
	BatchSize int           // default 256
	IdleSleep time.Duration // default 200ms between empty polls
}

func NewPostgresCursor(cfg PostgresCursorConfig) (*PostgresCursor, error) {
	if cfg.Table == "" {
		cfg.Table = "events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 200 * time.Millisecond
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresCursor{
		db:        db,
		table:     cfg.Table,
		batchSize: cfg.BatchSize,
		idleSleep: cfg.IdleSleep,
	}, nil
}

func (c *PostgresCursor) Close() error { return c.db.Close() }

func (c *PostgresCursor) Open(_ context.Context, shard offset.ShardTag, after offset.Offset) (Stream, error) {
	return &pgStream{cur: c, shard: shard, after: after}, nil
}

type pgStream struct {
	cur   *PostgresCursor
	shard offset.ShardTag
	after offset.Offset
	buf   []Event
}

func (s *pgStream) Next(ctx context.Context) (Event, error) {
	for {
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.after = ev.Offset
			return ev, nil
		}

		batch, err := s.fetch(ctx)
		if err != nil {
			return Event{}, err
		}
		if len(batch) > 0 {
			s.buf = batch
			continue
		}

		// caught up; a live log never completes, keep polling
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-time.After(s.cur.idleSleep):
		}
	}
}

func (s *pgStream) fetch(ctx context.Context) ([]Event, error) {
	rows, err := s.cur.db.QueryContext(ctx, `
SELECT seq, event_type, payload, occurred_at
FROM `+s.cur.table+`
WHERE entity_type = $1 AND shard_name = $2 AND seq > $3
ORDER BY seq
LIMIT $4`,
		s.shard.EntityType, s.shard.Name, int64(s.after), s.cur.batchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			seq     int64
			typ     string
			payload []byte
			at      time.Time
		)
		if err := rows.Scan(&seq, &typ, &payload, &at); err != nil {
			return nil, err
		}
		out = append(out, Event{
			Shard:     s.shard,
			Offset:    offset.Offset(seq),
			Type:      typ,
			Payload:   payload,
			Timestamp: at,
		})
	}
	return out, rows.Err()
}

func (s *pgStream) Close() error { return nil }

var _ Cursor = (*PostgresCursor)(nil)
