package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// maxFailReason fail_reason 列保存的最大长度
const maxFailReason = 1024

// DeliveryJob 一次投递：消息 ID、第几次尝试及待发送内容
type DeliveryJob struct {
	MessageID     string
	CorrelationID string
	Attempt       int
	Message       sender.Message
	EnqueuedAt    time.Time
}

// Deliverer 调用发送管线并把结果写回 outbox：
// 已送达的收件人删除，剩余收件人留给补偿扫描。
type Deliverer struct {
	outbox      repository.OutboxRepository
	sender      sender.Sender
	maxAttempts int
	now         func() time.Time
}

func NewDeliverer(outbox repository.OutboxRepository, s sender.Sender, maxAttempts int) *Deliverer {
	return &Deliverer{outbox: outbox, sender: s, maxAttempts: maxAttempts, now: time.Now}
}

// Deliver 返回发送错误（nil 表示全部送达）；outbox 写回失败会一并返回
func (d *Deliverer) Deliver(ctx context.Context, job DeliveryJob) error {
	sendErr := d.sender.Send(ctx, job.Message)
	interrupted := ctx.Err() != nil && sender.IsCanceled(sendErr)
	// 写回不受调用方取消影响，否则已送达的收件人会被重复发送
	if err := d.settle(context.WithoutCancel(ctx), job, sendErr, interrupted); err != nil {
		logger.Error("settle outbox message failed",
			zap.String("message_id", job.MessageID),
			zap.Error(err),
		)
		return errors.Join(sendErr, err)
	}
	return sendErr
}

func (d *Deliverer) settle(ctx context.Context, job DeliveryJob, sendErr error, interrupted bool) error {
	delivered := sender.Delivered(job.Message.Recipients, sendErr)
	if _, err := d.outbox.DeleteRecipients(ctx, job.MessageID, delivered); err != nil {
		return err
	}

	if interrupted {
		// 投递方停止：不计入尝试次数，释放软锁等待下一轮认领
		if err := d.outbox.ReleaseLock(ctx, job.MessageID); err != nil {
			return err
		}
		logger.Info("outbox delivery interrupted, lock released",
			zap.String("message_id", job.MessageID),
			zap.Int("delivered", len(delivered)),
		)
		return nil
	}

	status, reason := model.OutboxStatusSent, ""
	if sendErr != nil {
		status, reason = model.OutboxStatusFailed, truncate(sendErr.Error(), maxFailReason)
	}
	err := d.outbox.RecordAttempt(ctx, job.MessageID, status, reason, d.now())
	if errors.Is(err, repository.ErrOutboxTransition) {
		// 已被其他投递方标记为 SENT 或已清理
		return nil
	}
	if err != nil {
		return err
	}

	if sendErr == nil {
		drained, err := d.outbox.DeleteIfDrained(ctx, job.MessageID)
		if err != nil {
			return err
		}
		logger.Info("outbox message delivered",
			zap.String("message_id", job.MessageID),
			zap.String("correlation_id", job.CorrelationID),
			zap.Int("recipients", len(job.Message.Recipients)),
			zap.Int("attempt", job.Attempt),
			zap.Bool("drained", drained),
		)
		return nil
	}

	undelivered := sender.Undelivered(job.Message.Recipients, sendErr)
	fields := []zap.Field{
		zap.String("message_id", job.MessageID),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("delivered", len(delivered)),
		zap.Int("undelivered", len(undelivered)),
		zap.Int("attempt", job.Attempt),
		zap.Error(sendErr),
	}
	if d.maxAttempts > 0 && job.Attempt >= d.maxAttempts {
		logger.Error("outbox message delivery exhausted", fields...)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("outbox.message_id", job.MessageID)
			scope.SetTag("outbox.correlation_id", job.CorrelationID)
			scope.SetExtra("undelivered", undelivered)
			sentry.CaptureException(sendErr)
		})
		return nil
	}
	logger.Warn("outbox message delivery failed, left for sweeper", fields...)
	return nil
}

// truncate 截断到至多 n 字节，不拆分多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
