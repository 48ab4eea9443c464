package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// SweepResult 一轮扫描的统计
type SweepResult struct {
	Claimed    int `json:"claimed"`
	Drained    int `json:"drained"`
	Dispatched int `json:"dispatched"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// SweeperConfig 补偿扫描配置
type SweeperConfig struct {
	Interval    time.Duration
	SoftLockTTL time.Duration
	BatchSize   int
	MaxAttempts int
}

// RecoverySweeper 定期认领过期未完成的 outbox 消息并重新投递。
// 认领通过条件更新软锁完成，多实例并发扫描时同一消息只会被一方认领。
type RecoverySweeper struct {
	outbox    repository.OutboxRepository
	deliverer *Deliverer
	cfg       SweeperConfig
	now       func() time.Time
}

func NewRecoverySweeper(outbox repository.OutboxRepository, deliverer *Deliverer, cfg SweeperConfig) *RecoverySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SoftLockTTL <= 0 {
		cfg.SoftLockTTL = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &RecoverySweeper{outbox: outbox, deliverer: deliverer, cfg: cfg, now: time.Now}
}

// Start 按固定间隔扫描；返回停止函数，等待当前一轮结束
func (s *RecoverySweeper) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := s.RunOnce(ctx)
				if err != nil {
					logger.Error("outbox sweep failed", zap.Error(err))
					continue
				}
				if res.Claimed > 0 {
					logger.Info("outbox sweep finished",
						zap.Int("claimed", res.Claimed),
						zap.Int("drained", res.Drained),
						zap.Int("delivered", res.Delivered),
						zap.Int("failed", res.Failed),
					)
				}
			}
		}
	}()

	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

// RunOnce 执行一轮：认领、清理已完成的消息、重新投递剩余收件人
func (s *RecoverySweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := otel.Tracer("gatherly/outbox").Start(ctx, "outbox.sweep")
	defer span.End()

	var res SweepResult
	claimed, err := s.outbox.ClaimStale(ctx, s.now(), s.cfg.SoftLockTTL, s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Claimed = len(claimed)
	span.SetAttributes(attribute.Int("outbox.claimed", res.Claimed))

	for _, m := range claimed {
		if ctx.Err() != nil {
			// 剩余已认领的消息等软锁过期后再处理
			break
		}
		remaining, err := s.outbox.RemainingRecipients(ctx, m.ID)
		if err != nil {
			logger.Error("load remaining recipients failed", zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		if len(remaining) == 0 {
			if _, err := s.outbox.DeleteIfDrained(ctx, m.ID); err != nil {
				logger.Error("delete drained outbox message failed", zap.String("message_id", m.ID), zap.Error(err))
				continue
			}
			res.Drained++
			continue
		}

		res.Dispatched++
		err = s.deliverer.Deliver(ctx, DeliveryJob{
			MessageID:     m.ID,
			CorrelationID: m.CorrelationID,
			Attempt:       m.AttemptCount + 1,
			Message:       sender.Message{Recipients: remaining, Subject: m.Subject, Body: m.Body},
			EnqueuedAt:    s.now(),
		})
		if err != nil {
			res.Failed++
		} else {
			res.Delivered++
		}
	}
	span.SetAttributes(
		attribute.Int("outbox.drained", res.Drained),
		attribute.Int("outbox.delivered", res.Delivered),
		attribute.Int("outbox.failed", res.Failed),
	)
	return res, nil
}
