package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
)

// Decision 限流判定结果
type Decision struct {
	Allowed bool `json:"allowed"`
	// RemainingMinutes 被拒绝时距最早一次记录移出窗口的分钟数（向上取整，至少 1）
	RemainingMinutes int `json:"remaining_minutes,omitempty"`
}

// PokeRateLimiter 同一 (sender, recipient, event) 在窗口内最多 max 次
type PokeRateLimiter struct {
	store  repository.PokeStore
	txm    repository.TxManager
	window time.Duration
	max    int
}

func NewPokeRateLimiter(store repository.PokeStore, txm repository.TxManager, window time.Duration, maxSendable int) *PokeRateLimiter {
	return &PokeRateLimiter{store: store, txm: txm, window: window, max: maxSendable}
}

// Check 只判定不记录
func (l *PokeRateLimiter) Check(ctx context.Context, senderID, recipientID, eventID string, now time.Time) (Decision, error) {
	var d Decision
	err := l.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = l.check(ctx, senderID, recipientID, eventID, now)
		return err
	})
	return d, err
}

// CheckAndRecord 判定并在允许时于同一事务内记录本次尝试
func (l *PokeRateLimiter) CheckAndRecord(ctx context.Context, senderID, recipientID, eventID string, now time.Time) (Decision, error) {
	var d Decision
	err := l.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = l.check(ctx, senderID, recipientID, eventID, now)
		if err != nil || !d.Allowed {
			return err
		}
		return l.store.Record(ctx, &model.PokeAttempt{
			ID:          uuid.NewString(),
			SenderID:    senderID,
			RecipientID: recipientID,
			EventID:     eventID,
			SentAt:      now.UTC(),
		})
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (l *PokeRateLimiter) check(ctx context.Context, senderID, recipientID, eventID string, now time.Time) (Decision, error) {
	cnt, oldest, err := l.store.Stats(ctx, senderID, recipientID, eventID, now.Add(-l.window))
	if err != nil {
		return Decision{}, err
	}
	if cnt < int64(l.max) {
		return Decision{Allowed: true}, nil
	}
	return Decision{RemainingMinutes: remainingMinutes(oldest.Add(l.window).Sub(now))}, nil
}

func remainingMinutes(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}
