// Package bootstrap 组装根：按配置创建存储、发送管线、后台任务与 HTTP 入口
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/api/handler"
	"github.com/d60-Lab/gatherly/internal/breaker"
	"github.com/d60-Lab/gatherly/internal/provider"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/internal/service"
	"github.com/d60-Lab/gatherly/pkg/cache"
	"github.com/d60-Lab/gatherly/pkg/database"
	"github.com/d60-Lab/gatherly/pkg/logger"
	"github.com/d60-Lab/gatherly/pkg/tracing"
)

// App 进程内共享的组件
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Breakers *breaker.Registry

	TxManager    repository.TxManager
	Outbox       repository.OutboxRepository
	Mail         sender.Sender
	Deliverer    *service.Deliverer
	Dispatcher   *service.Dispatcher
	Sweeper      *service.RecoverySweeper
	OutboxSender *service.OutboxSender
	OutboxQuery  *service.OutboxQuery
	Poke         *service.PokeService
}

// Options 测试可替换的依赖
type Options struct {
	DB         *gorm.DB
	Redis      *redis.Client
	HTTPClient *http.Client
	Pusher     service.Pusher
}

// InitObservability 初始化日志、Sentry 与链路追踪，返回统一关闭函数
func InitObservability(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     cfg.Sentry.Release,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return nil, fmt.Errorf("init sentry: %w", err)
		}
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return func(ctx context.Context) error {
		err := shutdownTracing(ctx)
		if cfg.Sentry.DSN != "" {
			sentry.Flush(2 * time.Second)
		}
		_ = logger.Sync()
		return err
	}, nil
}

// Build 按配置组装所有组件；opts 中已提供的依赖不会重新创建
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg, DB: opts.DB, Redis: opts.Redis}

	if app.DB == nil {
		db, err := database.InitDB(cfg)
		if err != nil {
			return nil, err
		}
		app.DB = db
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(app.DB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	app.Breakers = breaker.NewRegistry()
	client := opts.HTTPClient
	primary, err := buildRoute(cfg.Mail.Primary, cfg.Mail.Layers, app.Breakers, client)
	if err != nil {
		return nil, err
	}
	secondary, err := buildRoute(cfg.Mail.Secondary, cfg.Mail.Layers, app.Breakers, client)
	if err != nil {
		return nil, err
	}
	app.Mail = sender.NewFailover(primary, secondary)

	app.TxManager = repository.NewTxManager(app.DB)
	app.Outbox = repository.NewOutboxRepository(app.DB)
	app.Deliverer = service.NewDeliverer(app.Outbox, app.Mail, cfg.Outbox.MaxDeliveryAttempts)
	app.Dispatcher = service.NewDispatcher(app.Deliverer, cfg.Outbox.DispatchQueueSize, 0)
	app.Sweeper = service.NewRecoverySweeper(app.Outbox, app.Deliverer, service.SweeperConfig{
		Interval:    cfg.Outbox.SweepInterval(),
		SoftLockTTL: cfg.Outbox.SoftLockTTL(),
		BatchSize:   cfg.Outbox.SweepBatchSize,
		MaxAttempts: cfg.Outbox.MaxDeliveryAttempts,
	})
	app.OutboxSender = service.NewOutboxSender(app.Outbox, app.Dispatcher, cfg.Outbox.SoftLockTTL())
	app.OutboxQuery = service.NewOutboxQuery(app.Outbox)

	store, err := app.pokeStore(ctx)
	if err != nil {
		return nil, err
	}
	pusher := opts.Pusher
	if pusher == nil {
		pusher = service.LogPusher{}
	}
	limiter := service.NewPokeRateLimiter(store, app.TxManager, cfg.Poke.Window(), cfg.Poke.MaxSendable)
	app.Poke = service.NewPokeService(limiter, app.TxManager, pusher)

	logger.Info("application assembled",
		zap.String("primary", cfg.Mail.Primary.Name),
		zap.String("secondary", cfg.Mail.Secondary.Name),
		zap.Strings("layers", cfg.Mail.Layers),
		zap.String("poke_store", cfg.Poke.Store),
	)
	return app, nil
}

// Handler HTTP 入口
func (a *App) Handler() *handler.Handler {
	return handler.NewHandler(a.TxManager, a.OutboxSender, a.OutboxQuery, a.Poke, a.Breakers, a.Sweeper, a.Dispatcher)
}

// Close 释放连接
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, database.Close(a.DB))
	}
	return errors.Join(errs...)
}

func (a *App) pokeStore(ctx context.Context) (repository.PokeStore, error) {
	if a.Config.Poke.Store != "redis" {
		return repository.NewPokeRepository(a.DB), nil
	}
	if a.Redis == nil {
		client, err := cache.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
	}
	return repository.NewRedisPokeStore(a.Redis, a.Config.Poke.Window()), nil
}

func buildRoute(cfg config.ProviderConfig, layers []string, reg *breaker.Registry, client *http.Client) (sender.Route, error) {
	leaf, err := provider.New(cfg, client)
	if err != nil {
		return sender.Route{}, err
	}
	b := reg.GetOrCreate(cfg.Name, breaker.Settings{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		FailureRatio:        cfg.Breaker.FailureRatio,
		MinRequests:         cfg.Breaker.MinRequests,
		QuotaReset:          breaker.ResetPolicy(cfg.Breaker.QuotaReset),
		IsQuotaExceeded:     sender.QuotaMatcher(cfg.QuotaExceededSignature),
		IsFailure:           sender.IsProviderFault,
	})
	s, err := sender.BuildPipeline(leaf, sender.PipelineConfig{
		Name:         cfg.Name,
		Layers:       layers,
		MaxAttempts:  cfg.MaxAttempts,
		Wait:         cfg.WaitBetweenAttempts,
		MaxBatchSize: cfg.MaxBatchSize,
		Breaker:      b,
	})
	if err != nil {
		return sender.Route{}, err
	}
	return sender.Route{Name: cfg.Name, Sender: s, Breaker: b}, nil
}
