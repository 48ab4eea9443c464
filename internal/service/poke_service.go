package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// ErrPokeSelf 不能戳自己
var ErrPokeSelf = errors.New("cannot poke yourself")

// PokeRequest 一次戳一戳
type PokeRequest struct {
	SenderID    string `json:"sender_id" form:"sender_id" binding:"required"`
	RecipientID string `json:"recipient_id" form:"recipient_id" binding:"required"`
	EventID     string `json:"event_id" form:"event_id" binding:"required"`
}

// Pusher 推送通道（外部协作方）
type Pusher interface {
	Push(ctx context.Context, req PokeRequest) error
}

// LogPusher 只记录日志
type LogPusher struct{}

func (LogPusher) Push(_ context.Context, req PokeRequest) error {
	logger.Info("poke pushed",
		zap.String("sender_id", req.SenderID),
		zap.String("recipient_id", req.RecipientID),
		zap.String("event_id", req.EventID),
	)
	return nil
}

// PokeService 限流判定、记录与推送；推送在事务提交后执行
type PokeService struct {
	limiter *PokeRateLimiter
	txm     repository.TxManager
	pusher  Pusher
	now     func() time.Time
}

func NewPokeService(limiter *PokeRateLimiter, txm repository.TxManager, pusher Pusher) *PokeService {
	return &PokeService{limiter: limiter, txm: txm, pusher: pusher, now: time.Now}
}

func (s *PokeService) Poke(ctx context.Context, req PokeRequest) (Decision, error) {
	if req.SenderID == req.RecipientID {
		return Decision{}, ErrPokeSelf
	}

	var d Decision
	err := s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.limiter.CheckAndRecord(ctx, req.SenderID, req.RecipientID, req.EventID, s.now())
		if err != nil || !d.Allowed {
			return err
		}
		return repository.AfterCommit(ctx, func() {
			// 推送与请求解耦，失败只记录
			pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.pusher.Push(pushCtx, req); err != nil {
				logger.Warn("poke push failed", zap.String("sender_id", req.SenderID), zap.Error(err))
			}
		})
	})
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		logger.Debug("poke rejected by rate limiter",
			zap.String("sender_id", req.SenderID),
			zap.String("recipient_id", req.RecipientID),
			zap.String("event_id", req.EventID),
			zap.Int("remaining_minutes", d.RemainingMinutes),
		)
	}
	return d, nil
}

// Status 查询当前是否还能戳，不记录
func (s *PokeService) Status(ctx context.Context, req PokeRequest) (Decision, error) {
	if req.SenderID == req.RecipientID {
		return Decision{}, ErrPokeSelf
	}
	return s.limiter.Check(ctx, req.SenderID, req.RecipientID, req.EventID, s.now())
}
