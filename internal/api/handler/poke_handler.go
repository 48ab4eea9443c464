package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/gatherly/internal/service"
	"github.com/d60-Lab/gatherly/pkg/response"
)

// Poke 戳一戳，超出窗口限额时返回 429 与剩余分钟数
// @Summary 戳一戳
// @Tags 戳一戳
// @Accept json
// @Produce json
// @Param request body service.PokeRequest true "戳一戳"
// @Success 200 {object} response.Response{data=service.Decision}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response{data=service.Decision}
// @Router /api/v1/pokes [post]
func (h *Handler) Poke(c *gin.Context) {
	var req service.PokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	d, err := h.poker.Poke(c.Request.Context(), req)
	if errors.Is(err, service.ErrPokeSelf) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !d.Allowed {
		response.TooManyRequests(c, "poke limit reached", d)
		return
	}
	response.Success(c, d)
}

// PokeStatus 查询是否还能戳，不记录
// @Summary 戳一戳限额查询
// @Tags 戳一戳
// @Produce json
// @Param sender_id query string true "发起人"
// @Param recipient_id query string true "接收人"
// @Param event_id query string true "活动"
// @Success 200 {object} response.Response{data=service.Decision}
// @Failure 400 {object} response.Response
// @Router /api/v1/pokes/status [get]
func (h *Handler) PokeStatus(c *gin.Context) {
	var req service.PokeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	d, err := h.poker.Status(c.Request.Context(), req)
	if errors.Is(err, service.ErrPokeSelf) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, d)
}
