package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminastream/shardpipe/internal/backoff"
	"github.com/luminastream/shardpipe/internal/eventlog"
	"github.com/luminastream/shardpipe/internal/gate"
	"github.com/luminastream/shardpipe/internal/offset"
	"github.com/luminastream/shardpipe/internal/sink"
)

// State is the worker lifecycle position. Exactly one worker is alive per
// (pipeline, shard); enforcing that is the supervisor's job, not ours.
type State int32

const (
	Idle State = iota
	AwaitingPrepare
	LoadingOffset
	Streaming
	ShuttingDown
	Crashed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPrepare:
		return "awaiting-prepare"
	case LoadingOffset:
		return "loading-offset"
	case Streaming:
		return "streaming"
	case ShuttingDown:
		return "shutting-down"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

type Config struct {
	PipelineID string
	Shard      offset.ShardTag

	// PrepareTimeout bounds the one-time setup barrier. Expiry is fatal:
	// the barrier is shared across shards and repeated failure points at a
	// systemic problem worth surfacing through a full restart.
	PrepareTimeout time.Duration // default 30s

	// ResolveTimeout bounds sink preparation and offset loading per
	// attempt. Expiry is transient and retried with backoff.
	ResolveTimeout time.Duration // default 10s

	// CommitEvery batches offset commits. The default of 1 commits after
	// every event, bounding in-flight unacknowledged work to one element.
	// Larger values trade restart re-delivery for fewer store writes.
	CommitEvery int

	Backoff backoff.Config
}

func (c *Config) applyDefaults() {
	if c.PrepareTimeout <= 0 {
		c.PrepareTimeout = 30 * time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 10 * time.Second
	}
	if c.CommitEvery <= 0 {
		c.CommitEvery = 1
	}
	if c.Backoff.Min <= 0 && c.Backoff.Max <= 0 {
		c.Backoff = backoff.DefaultConfig()
	}
}

// Deps are the collaborators a worker drives. All are required except
// Metrics (nil records nothing) and Stage (nil means pass-through).
type Deps struct {
	Gate    gate.Gate
	Cursor  eventlog.Cursor
	Offsets offset.Store
	Sink    sink.Sink
	Stage   Stage
	Log     *zap.Logger
	Metrics *Metrics
}

// Worker owns the full lifecycle for one shard's pipeline: prepare barrier,
// offset resume, streaming through the stage into the sink, offset commit
// after each delivery, and restart with backoff on transient failure. Fatal
// errors crash the worker; the supervisor observes that through Done/Err
// and rebuilds it from scratch.
type Worker struct {
	cfg   Config
	deps  Deps
	ctrl  *backoff.Controller
	log   *zap.Logger
	runID string

	state atomic.Int32

	mu sync.Mutex
	sw *Switch

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	err      error
}

func NewWorker(cfg Config, deps Deps) (*Worker, error) {
	cfg.applyDefaults()
	if cfg.PipelineID == "" {
		return nil, errors.New("pipeline: pipeline id is empty")
	}
	if cfg.Shard == (offset.ShardTag{}) {
		return nil, errors.New("pipeline: shard tag is empty")
	}
	if deps.Gate == nil || deps.Cursor == nil || deps.Offsets == nil || deps.Sink == nil {
		return nil, errors.New("pipeline: gate, cursor, offsets and sink are required")
	}
	if deps.Stage == nil {
		deps.Stage = PassThrough(NoKey{})
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	w := &Worker{
		cfg:    cfg,
		deps:   deps,
		runID:  uuid.NewString(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.log = deps.Log.With(
		zap.String("pipeline", cfg.PipelineID),
		zap.String("shard", cfg.Shard.String()),
		zap.String("run_id", w.runID),
	)

	bcfg := cfg.Backoff
	bcfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		w.log.Warn("stream attempt failed, restarting",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		deps.Metrics.restarted(cfg.PipelineID, cfg.Shard.String(), wait.Seconds())
	}
	w.ctrl = backoff.New(bcfg)

	return w, nil
}

// Start launches the worker lifecycle on its own goroutine; all state
// mutation happens there, commands arrive over channels. Use Done and Err
// to observe termination.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop requests shutdown. Idempotent, non-blocking; the current streaming
// attempt is cut via its cancellation switch and the worker drains.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		sw := w.sw
		w.mu.Unlock()
		if sw != nil {
			sw.Kill()
		}
	})
}

// Done is closed once the worker has fully terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns the fatal error after Done, or nil for a clean stop.
func (w *Worker) Err() error {
	<-w.done
	return w.err
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.deps.Metrics.state(w.cfg.PipelineID, w.cfg.Shard.String(), s)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	w.setState(AwaitingPrepare)
	w.log.Info("worker starting", zap.String("state", AwaitingPrepare.String()))

	pctx, pcancel := context.WithTimeout(runCtx, w.cfg.PrepareTimeout)
	err := w.deps.Gate.Execute(pctx)
	pcancel()
	if err != nil {
		if w.stopping(runCtx) {
			w.shutdown()
			return
		}
		w.crash(fmt.Errorf("global prepare: %w", err))
		return
	}

	err = w.ctrl.Run(runCtx, w.attempt)
	switch {
	case w.stopping(runCtx):
		w.shutdown()
	case err != nil:
		w.crash(err)
	default:
		// attempts never return nil from an infinite stream; a nil here
		// means the controller was asked to stop
		w.shutdown()
	}
}

// attempt is one full streaming pass: resolve + prepare the sink, load the
// resume offset, open the stream strictly after it, then pump events. Any
// returned error other than a permanent one restarts the whole pass.
func (w *Worker) attempt(ctx context.Context, reset func()) error {
	w.setState(LoadingOffset)

	actx, sw := NewSwitch(ctx)
	w.mu.Lock()
	w.sw = sw
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.sw = nil
		w.mu.Unlock()
		sw.Kill()
		sw.finish()
	}()

	rctx, rcancel := context.WithTimeout(actx, w.cfg.ResolveTimeout)
	dest, err := w.deps.Sink.Prepare(rctx, w.cfg.PipelineID, w.cfg.Shard)
	rcancel()
	if err != nil {
		return fmt.Errorf("sink prepare: %w", err)
	}

	lctx, lcancel := context.WithTimeout(actx, w.cfg.ResolveTimeout)
	resume, err := w.deps.Offsets.Prepare(lctx, w.cfg.PipelineID, w.cfg.Shard)
	lcancel()
	if err != nil {
		return fmt.Errorf("offset prepare: %w", err)
	}

	stream, err := w.deps.Cursor.Open(actx, w.cfg.Shard, resume)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	w.setState(Streaming)
	w.log.Info("streaming",
		zap.String("destination", dest.String()),
		zap.Uint64("resume_after", uint64(resume)),
	)

	pending := 0
	var last offset.Offset
	for {
		ev, err := stream.Next(actx)
		if errors.Is(err, eventlog.ErrCompleted) {
			return backoff.Permanent(ErrStreamCompleted)
		}
		if err != nil {
			return err
		}

		published := false
		msg, err := w.deps.Stage.Process(actx, ev)
		switch {
		case errors.Is(err, ErrSkip):
			w.deps.Metrics.skipped(w.cfg.PipelineID, w.cfg.Shard.String())
		case err != nil && IsTransient(err):
			return fmt.Errorf("stage: %w", err)
		case err != nil:
			return backoff.Permanent(fmt.Errorf("stage: %w", err))
		default:
			if msg.Offset == 0 {
				msg.Offset = ev.Offset
			}
			if msg.Shard == (offset.ShardTag{}) {
				msg.Shard = ev.Shard
			}
			if err := w.deps.Sink.Publish(actx, msg); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			published = true
		}

		pending++
		last = ev.Offset
		if pending >= w.cfg.CommitEvery {
			if err := w.deps.Offsets.Save(actx, w.cfg.Shard, last); err != nil {
				return fmt.Errorf("offset save: %w", err)
			}
			pending = 0
			if published {
				w.deps.Metrics.processed(w.cfg.PipelineID, w.cfg.Shard.String(), uint64(last))
			}
			reset()
		}
	}
}

func (w *Worker) stopping(runCtx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	default:
	}
	return runCtx.Err() != nil
}

func (w *Worker) shutdown() {
	w.setState(ShuttingDown)
	w.log.Info("worker stopped")
}

func (w *Worker) crash(err error) {
	w.err = err
	w.setState(Crashed)
	w.deps.Metrics.crashed(w.cfg.PipelineID, w.cfg.Shard.String())
	w.log.Error("worker crashed", zap.Error(err))
}
