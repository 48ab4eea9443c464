package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/pkg/response"
)

type remindRequest struct {
	CorrelationID string   `json:"correlation_id" binding:"required,max=64"`
	Recipients    []string `json:"recipients" binding:"required,min=1,dive,required,email"`
	Subject       string   `json:"subject" binding:"required,max=512"`
	Body          string   `json:"body" binding:"required"`
}

// Remind 写入 outbox 并异步投递，立即返回
// @Summary 发送提醒邮件（异步）
// @Tags 通知
// @Accept json
// @Produce json
// @Param request body remindRequest true "提醒内容"
// @Success 202 {object} response.Response{data=model.OutboxMessage}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/notifications/remind [post]
func (h *Handler) Remind(c *gin.Context) {
	var req remindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var msg *model.OutboxMessage
	err := h.txm.WithTransaction(c.Request.Context(), func(ctx context.Context) error {
		var err error
		msg, err = h.notifier.Remind(ctx, &model.Notification{
			CorrelationID: req.CorrelationID,
			Recipients:    req.Recipients,
			Subject:       req.Subject,
			Body:          req.Body,
		})
		return err
	})
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, msg)
}

// ListOutbox 查询 outbox
// @Summary 查询 outbox 消息
// @Tags 通知
// @Produce json
// @Param status query string false "状态" Enums(PENDING, SENT, FAILED)
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/outbox [get]
func (h *Handler) ListOutbox(c *gin.Context) {
	status := model.OutboxStatus(c.Query("status"))
	switch status {
	case "", model.OutboxStatusPending, model.OutboxStatusSent, model.OutboxStatusFailed:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, err := h.outbox.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// GetOutbox 查询单条 outbox 消息及剩余收件人
// @Summary 查询 outbox 消息详情
// @Tags 通知
// @Produce json
// @Param id path string true "消息ID"
// @Success 200 {object} response.Response{data=model.OutboxMessage}
// @Failure 404 {object} response.Response
// @Router /api/v1/outbox/{id} [get]
func (h *Handler) GetOutbox(c *gin.Context) {
	msg, err := h.outbox.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrOutboxNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, msg)
}
