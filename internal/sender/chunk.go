package sender

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/pkg/logger"
)

// Chunk 将收件人按顺序切分为不超过 maxBatchSize 的批次并逐批发送。
// 单批失败不影响其他批次；失败批次汇总为 *BatchError。
func Chunk(maxBatchSize int) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			if maxBatchSize <= 0 || len(msg.Recipients) <= maxBatchSize {
				return next.Send(ctx, msg)
			}

			var failed []FailedBatch
			for batch := range slices.Chunk(msg.Recipients, maxBatchSize) {
				if err := ctx.Err(); err != nil {
					// 已取消：剩余批次不再发送，留给补偿扫描
					failed = append(failed, FailedBatch{Recipients: slices.Clone(batch), Err: err})
					continue
				}
				err := next.Send(ctx, msg.WithRecipients(batch))
				if err == nil {
					continue
				}
				var be *BatchError
				if errors.As(err, &be) {
					failed = append(failed, be.Failed...)
				} else {
					failed = append(failed, FailedBatch{Recipients: slices.Clone(batch), Err: err})
				}
				logger.Warn("mail chunk failed",
					zap.Int("batch_size", len(batch)),
					zap.Int("total_recipients", len(msg.Recipients)),
					zap.Error(err),
				)
			}
			if len(failed) == 0 {
				return nil
			}
			return &BatchError{Failed: failed}
		})
	}
}
