// producerd runs the log-to-broker pipelines: every kafka pipeline declared
// in the pipelines file gets one worker per shard, reading the event log and
// producing to its topic with at-least-once delivery.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/luminastream/shardpipe/internal/app"
	"github.com/luminastream/shardpipe/internal/config"
	"github.com/luminastream/shardpipe/internal/logging"
)

func main() {
	pipelinesFile := flag.String("pipelines", "", "pipelines yaml path (overrides PIPELINES_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if *pipelinesFile != "" {
		cfg.Pipelines.File = *pipelinesFile
	}

	logger := logging.NewOrNop(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("daemon", "producerd"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, logger, app.KindKafka)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("daemon failed", zap.Error(err))
	}
}
