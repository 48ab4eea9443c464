// Command sweeper 独立运行 outbox 补偿扫描，可多实例部署
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/bootstrap"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := bootstrap.InitObservability(ctx, cfg)
	if err != nil {
		log.Fatalf("init observability: %v", err)
	}
	defer func() { _ = shutdownObs(context.Background()) }()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		return
	}
	defer func() { _ = app.Close() }()

	if *once {
		res, err := app.Sweeper.RunOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			return
		}
		logger.Info("sweep finished",
			zap.Int("claimed", res.Claimed),
			zap.Int("drained", res.Drained),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed),
		)
		return
	}

	logger.Info("sweeper started",
		zap.Duration("interval", cfg.Outbox.SweepInterval()),
		zap.Duration("soft_lock_ttl", cfg.Outbox.SoftLockTTL()),
		zap.Int("batch_size", cfg.Outbox.SweepBatchSize),
	)
	stopSweeper := app.Sweeper.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := stopSweeper(shutdownCtx); err != nil {
		logger.Warn("sweeper shutdown", zap.Error(err))
	}
	logger.Info("sweeper stopped")
}
