// Package supervisor runs one pipeline worker per (pipeline, shard) and
// restarts crashed ones from scratch. It is the in-process stand-in for an
// external process-group manager: a worker's fatal error is observed as
// termination here and answered by rebuilding the whole worker, including a
// fresh pass through the prepare barrier.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luminastream/shardpipe/internal/pipeline"
)

// Factory builds a brand-new worker. Called once at startup and again after
// every crash; it must not reuse worker state across generations.
type Factory func(ctx context.Context) (*pipeline.Worker, error)

// Spec declares one supervised pipeline.
type Spec struct {
	Name         string
	Build        Factory
	RestartDelay time.Duration // default 3s
}

type Supervisor struct {
	log   *zap.Logger
	specs []Spec

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{log: log}
}

// Add registers a pipeline. Must be called before Run.
func (s *Supervisor) Add(spec Spec) {
	if spec.RestartDelay <= 0 {
		spec.RestartDelay = 3 * time.Second
	}
	s.specs = append(s.specs, spec)
}

// Run blocks until ctx is cancelled or Stop is called, supervising all
// registered pipelines in parallel. Shards never block each other.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, spec := range s.specs {
		g.Go(func() error {
			s.supervise(gctx, spec)
			return nil
		})
	}
	return g.Wait()
}

// Stop shuts all workers down. Idempotent, non-blocking; Run returns once
// every worker has drained.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Supervisor) supervise(ctx context.Context, spec Spec) {
	log := s.log.With(zap.String("worker", spec.Name))

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := spec.Build(ctx)
		if err != nil {
			log.Error("worker build failed", zap.Error(err))
			if !sleep(ctx, spec.RestartDelay) {
				return
			}
			continue
		}

		w.Start(ctx)
		select {
		case <-ctx.Done():
			w.Stop()
			<-w.Done()
			return
		case <-w.Done():
		}

		if err := w.Err(); err != nil {
			log.Error("worker crashed, restarting from scratch",
				zap.Error(err),
				zap.Duration("restart_delay", spec.RestartDelay),
			)
			if !sleep(ctx, spec.RestartDelay) {
				return
			}
			continue
		}

		// stopped cleanly without supervisor involvement; nothing to restart
		log.Info("worker stopped")
		return
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
