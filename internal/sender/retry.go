package sender

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/pkg/logger"
)

// RetryConfig 重试配置
type RetryConfig struct {
	Name        string
	MaxAttempts int
	Wait        time.Duration
	// Retryable 默认 IsTransient
	Retryable func(error) bool
}

// Retry 在可重试错误上以固定间隔重试，最多 MaxAttempts 次（含首次）。
// 部分失败时下一次只发送未送达的收件人。
func Retry(cfg RetryConfig) Middleware {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsTransient
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			pending := msg.Recipients
			attempt := 0
			var lastErr error

			op := func() (struct{}, error) {
				attempt++
				err := next.Send(ctx, msg.WithRecipients(pending))
				lastErr = err
				if err == nil {
					return struct{}{}, nil
				}
				if left := Undelivered(pending, err); len(left) > 0 {
					pending = left
				}
				if !cfg.Retryable(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}

			_, err := backoff.Retry(ctx, op,
				backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Wait)),
				backoff.WithMaxTries(uint(cfg.MaxAttempts)),
				backoff.WithMaxElapsedTime(0),
				backoff.WithNotify(func(err error, wait time.Duration) {
					logger.Warn("mail send failed, retrying",
						zap.String("provider", cfg.Name),
						zap.Int("attempt", attempt),
						zap.Int("max_attempts", cfg.MaxAttempts),
						zap.Int("recipients", len(pending)),
						zap.Duration("wait", wait),
						zap.Error(err),
					)
				}),
			)
			if err == nil {
				return nil
			}

			// 返回最后一次发送的原始错误，而不是 Permanent 包装或 ctx 错误
			if lastErr != nil {
				err = lastErr
			}
			if attempt >= cfg.MaxAttempts && cfg.MaxAttempts > 1 && cfg.Retryable(err) {
				logger.Warn("mail send retries exhausted",
					zap.String("provider", cfg.Name),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
			}
			if len(pending) < len(msg.Recipients) {
				// 之前的尝试已送达部分收件人
				return AsBatchError(pending, err)
			}
			return err
		})
	}
}
