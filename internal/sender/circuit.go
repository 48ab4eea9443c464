package sender

import (
	"context"

	"github.com/d60-Lab/gatherly/internal/breaker"
)

// CircuitBreaker 由熔断器保护；打开时直接返回 breaker.ErrOpen，不调用下游
func CircuitBreaker(b *breaker.Breaker) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) error {
			return b.Execute(func() error {
				return next.Send(ctx, msg)
			})
		})
	}
}
