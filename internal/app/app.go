// Package app wires configuration, logging, metrics, sinks, offset stores
// and the supervisor into a runnable pipeline daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luminastream/shardpipe/internal/backoff"
	"github.com/luminastream/shardpipe/internal/config"
	"github.com/luminastream/shardpipe/internal/eventlog"
	"github.com/luminastream/shardpipe/internal/gate"
	"github.com/luminastream/shardpipe/internal/offset"
	"github.com/luminastream/shardpipe/internal/pipeline"
	"github.com/luminastream/shardpipe/internal/resolver"
	"github.com/luminastream/shardpipe/internal/sink"
	"github.com/luminastream/shardpipe/internal/supervisor"
)

// SinkKind selects which declared pipelines a daemon runs.
type SinkKind string

const (
	KindKafka    SinkKind = "kafka"
	KindPostgres SinkKind = "postgres"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	sup     *supervisor.Supervisor
	metrics *pipeline.Metrics
	reg     *prometheus.Registry
	closers []func() error
}

// New assembles a daemon for all pipelines of the given sink kind declared
// in the pipelines file.
func New(cfg *config.Config, log *zap.Logger, kind SinkKind) (*App, error) {
	pf, err := config.LoadPipelines(cfg.Pipelines.File)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a := &App{
		cfg:     cfg,
		log:     log,
		sup:     supervisor.New(log),
		metrics: pipeline.NewMetrics(reg),
		reg:     reg,
	}

	cursor, err := eventlog.NewPostgresCursor(eventlog.PostgresCursorConfig{
		DSN:   cfg.Postgres.DSN,
		Table: cfg.Postgres.EventsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	a.closers = append(a.closers, cursor.Close)

	matched := 0
	for _, p := range pf.Pipelines {
		if SinkKind(p.Sink) != kind {
			continue
		}
		matched++
		if err := a.addPipeline(p, cursor); err != nil {
			a.closeAll()
			return nil, err
		}
	}
	if matched == 0 {
		a.closeAll()
		return nil, fmt.Errorf("app: %s declares no %s pipelines", cfg.Pipelines.File, kind)
	}
	return a, nil
}

func (a *App) addPipeline(p config.Pipeline, cursor eventlog.Cursor) error {
	snk, prepare, err := a.buildSink(p)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, snk.Close)

	store, err := a.buildOffsets(p)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)

	flag, err := gate.NewFileFlag(filepath.Join(a.cfg.Data.Dir, p.ID+".prepared"))
	if err != nil {
		return err
	}
	g := gate.New(prepare, flag)

	bcfg := backoff.DefaultConfig()
	if p.Backoff.Min.Std() > 0 {
		bcfg.Min = p.Backoff.Min.Std()
	}
	if p.Backoff.Max.Std() > 0 {
		bcfg.Max = p.Backoff.Max.Std()
	}
	if p.Backoff.Jitter > 0 {
		bcfg.Jitter = p.Backoff.Jitter
	}
	if p.Backoff.ResetOnProgress != nil {
		bcfg.ResetOnProgress = *p.Backoff.ResetOnProgress
	}

	for _, sh := range p.Shards {
		for _, name := range sh.Names {
			shard := offset.ShardTag{EntityType: sh.EntityType, Name: name}
			cfg := pipeline.Config{
				PipelineID:     p.ID,
				Shard:          shard,
				PrepareTimeout: p.PrepareTimeout.Std(),
				ResolveTimeout: p.ResolveTimeout.Std(),
				CommitEvery:    p.CommitEvery,
				Backoff:        bcfg,
			}
			deps := pipeline.Deps{
				Gate:    g,
				Cursor:  cursor,
				Offsets: store,
				Sink:    snk,
				Stage:   pipeline.PassThrough(entityKey{}),
				Log:     a.log,
				Metrics: a.metrics,
			}
			a.sup.Add(supervisor.Spec{
				Name: p.ID + "/" + shard.String(),
				Build: func(context.Context) (*pipeline.Worker, error) {
					return pipeline.NewWorker(cfg, deps)
				},
				RestartDelay: p.RestartDelay.Std(),
			})
		}
	}
	return nil
}

// entityKey partitions produced messages by shard, preserving per-shard
// ordering at the destination.
type entityKey struct{}

func (entityKey) Key(ev eventlog.Event) (string, bool) {
	return ev.Shard.String(), true
}

func (a *App) buildSink(p config.Pipeline) (sink.Sink, gate.PrepareFunc, error) {
	switch SinkKind(p.Sink) {
	case KindKafka:
		res := &resolver.Env{Var: a.cfg.Kafka.BrokersEnv, Fallback: a.cfg.Kafka.Brokers}
		s, err := sink.NewKafkaSink(sink.KafkaConfig{Topic: p.Topic, Resolver: res})
		if err != nil {
			return nil, nil, err
		}
		partitions := p.Partitions
		if partitions <= 0 {
			partitions = 1
		}
		replication := p.Replication
		if replication <= 0 {
			replication = 1
		}
		prepare := func(ctx context.Context) error {
			return sink.EnsureTopic(ctx, res, p.Topic, partitions, replication)
		}
		return s, prepare, nil

	case KindPostgres:
		s, err := sink.NewPostgresSink(sink.PostgresConfig{DSN: a.cfg.Postgres.DSN, Table: p.Table})
		if err != nil {
			return nil, nil, err
		}
		// structures are created by the sink's idempotent Prepare
		return s, func(context.Context) error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("app: unknown sink kind %q", p.Sink)
	}
}

func (a *App) buildOffsets(p config.Pipeline) (offset.Store, error) {
	switch a.cfg.Offsets.Backend {
	case "file":
		return offset.NewFileStore(filepath.Join(a.cfg.Data.Dir, "offsets"))
	case "postgres":
		return offset.NewPostgresStore(a.cfg.Postgres.DSN)
	case "rocks":
		path := a.cfg.Offsets.RocksPath
		if path == "" {
			path = filepath.Join(a.cfg.Data.Dir, "offsets.db")
		}
		return offset.OpenRocksStore(path)
	default:
		return nil, fmt.Errorf("app: unknown offset backend %q", a.cfg.Offsets.Backend)
	}
}

// Run serves metrics and supervises all workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.closeAll()

	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return a.sup.Run(ctx)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
