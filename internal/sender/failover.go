package sender

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/breaker"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// Route 一个供应商管线及其熔断器
type Route struct {
	Name    string
	Sender  Sender
	Breaker *breaker.Breaker
}

// Failover 主备切换：主供应商熔断打开时直接走备用；
// 主供应商失败时仅把未送达的收件人交给备用，备用结果即最终结果。
type Failover struct {
	primary   Route
	secondary Route
}

func NewFailover(primary, secondary Route) *Failover {
	return &Failover{primary: primary, secondary: secondary}
}

func (f *Failover) Send(ctx context.Context, msg Message) error {
	ctx, span := otel.Tracer("gatherly/sender").Start(ctx, "mail.failover")
	defer span.End()
	span.SetAttributes(attribute.Int("mail.recipients", len(msg.Recipients)))

	pending := msg.Recipients
	if f.primary.Breaker != nil && f.primary.Breaker.IsOpen() {
		span.AddEvent("primary circuit open")
		logger.Debug("primary mail provider circuit open, using secondary",
			zap.String("primary", f.primary.Name),
			zap.String("secondary", f.secondary.Name),
		)
	} else {
		err := f.primary.Sender.Send(ctx, msg)
		if err == nil {
			span.SetAttributes(attribute.String("mail.provider", f.primary.Name))
			return nil
		}
		pending = Undelivered(msg.Recipients, err)
		if len(pending) == 0 {
			return nil
		}
		logger.Warn("primary mail provider failed, failing over",
			zap.String("primary", f.primary.Name),
			zap.String("secondary", f.secondary.Name),
			zap.Int("undelivered", len(pending)),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.String("mail.provider", f.secondary.Name))
	err := f.secondary.Sender.Send(ctx, msg.WithRecipients(pending))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "secondary provider failed")
		return AsBatchError(pending, err)
	}
	return nil
}
