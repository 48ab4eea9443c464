// Command server 提供 HTTP API，并在进程内运行异步投递与补偿扫描
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/api"
	"github.com/d60-Lab/gatherly/internal/bootstrap"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

func main() {
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

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		_ = shutdownObs(context.Background())
		log.Fatalf("bootstrap: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()

	stopDispatcher := app.Dispatcher.Start(cfg.Outbox.DispatchWorkers)
	stopSweeper := app.Sweeper.Start()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, app.Handler()),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := stopSweeper(shutdownCtx); err != nil {
		logger.Warn("sweeper shutdown", zap.Error(err))
	}
	if err := stopDispatcher(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", zap.Error(err))
	}
	if err := shutdownObs(shutdownCtx); err != nil {
		log.Printf("observability shutdown: %v", err)
	}
}
