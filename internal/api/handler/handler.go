package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/gatherly/internal/breaker"
	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/service"
	"github.com/d60-Lab/gatherly/pkg/response"
)

// OutboxReader outbox 审计查询
type OutboxReader interface {
	List(ctx context.Context, status model.OutboxStatus, page, size int) ([]*model.OutboxMessage, error)
	Get(ctx context.Context, id string) (*model.OutboxMessage, error)
}

// Poker 戳一戳
type Poker interface {
	Poke(ctx context.Context, req service.PokeRequest) (service.Decision, error)
	Status(ctx context.Context, req service.PokeRequest) (service.Decision, error)
}

// Sweeper 手动触发一轮补偿扫描
type Sweeper interface {
	RunOnce(ctx context.Context) (service.SweepResult, error)
}

// QueueStats 异步投递队列
type QueueStats interface {
	QueueLen() int
}

// Handler HTTP 入口
type Handler struct {
	txm      repository.TxManager
	notifier service.NotificationSender
	outbox   OutboxReader
	poker    Poker
	breakers *breaker.Registry
	sweeper  Sweeper
	queue    QueueStats
}

func NewHandler(
	txm repository.TxManager,
	notifier service.NotificationSender,
	outbox OutboxReader,
	poker Poker,
	breakers *breaker.Registry,
	sweeper Sweeper,
	queue QueueStats,
) *Handler {
	return &Handler{
		txm:      txm,
		notifier: notifier,
		outbox:   outbox,
		poker:    poker,
		breakers: breakers,
		sweeper:  sweeper,
		queue:    queue,
	}
}

// Health 健康检查，附带异步投递队列长度
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.queue != nil {
		body["dispatch_queue"] = h.queue.QueueLen()
	}
	response.Success(c, body)
}
