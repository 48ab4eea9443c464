package service

import (
	"context"

	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
)

const maxPageSize = 100

// OutboxQuery outbox 审计查询
type OutboxQuery struct {
	outbox repository.OutboxRepository
}

func NewOutboxQuery(outbox repository.OutboxRepository) *OutboxQuery {
	return &OutboxQuery{outbox: outbox}
}

// List page 从 1 开始；status 为空时不过滤
func (q *OutboxQuery) List(ctx context.Context, status model.OutboxStatus, page, size int) ([]*model.OutboxMessage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	return q.outbox.List(ctx, status, (page-1)*size, size)
}

func (q *OutboxQuery) Get(ctx context.Context, id string) (*model.OutboxMessage, error) {
	return q.outbox.Get(ctx, id)
}
