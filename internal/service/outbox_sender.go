package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// ErrTransactionRequired Remind 必须在调用方事务内执行
var ErrTransactionRequired = errors.New("remind must run inside a transaction")

// NotificationSender 领域层调用的通知入口
type NotificationSender interface {
	Remind(ctx context.Context, n *model.Notification) (*model.OutboxMessage, error)
}

// OutboxSender 先写 outbox（与领域操作同一事务），提交后异步投递。
// 投递失败不会回滚领域操作，只体现为 outbox 中的剩余收件人与状态。
type OutboxSender struct {
	outbox   repository.OutboxRepository
	queue    JobQueue
	validate *validator.Validate
	lockTTL  time.Duration
	now      func() time.Time
}

func NewOutboxSender(outbox repository.OutboxRepository, queue JobQueue, lockTTL time.Duration) *OutboxSender {
	return &OutboxSender{
		outbox:   outbox,
		queue:    queue,
		validate: validator.New(),
		lockTTL:  lockTTL,
		now:      time.Now,
	}
}

func (s *OutboxSender) Remind(ctx context.Context, n *model.Notification) (*model.OutboxMessage, error) {
	if !repository.InTransaction(ctx) {
		return nil, ErrTransactionRequired
	}
	if err := s.validate.Struct(n); err != nil {
		return nil, err
	}
	recipients := dedupeAddresses(n.Recipients)

	now := s.now().UTC()
	// 软锁覆盖首次异步投递，避免补偿扫描与其并发
	lockUntil := now.Add(s.lockTTL)
	msg := &model.OutboxMessage{
		ID:            uuid.NewString(),
		CorrelationID: n.CorrelationID,
		Subject:       n.Subject,
		Body:          n.Body,
		Status:        model.OutboxStatusPending,
		CreatedAt:     now,
		SoftLockUntil: &lockUntil,
	}
	if err := s.outbox.Create(ctx, msg, recipients); err != nil {
		return nil, err
	}

	job := DeliveryJob{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Attempt:       1,
		Message:       sender.Message{Recipients: recipients, Subject: msg.Subject, Body: msg.Body},
	}
	if err := repository.AfterCommit(ctx, func() {
		if !s.queue.Enqueue(job) {
			logger.Warn("remind not dispatched, waiting for sweeper",
				zap.String("message_id", job.MessageID),
				zap.Time("soft_lock_until", lockUntil),
			)
		}
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

// dedupeAddresses 去除首尾空白并按大小写不敏感去重，保持首次出现的顺序
func dedupeAddresses(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok || a == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
