package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/gatherly/internal/breaker"
	"github.com/d60-Lab/gatherly/pkg/response"
)

// ListBreakers 查看各邮件服务商熔断状态
// @Summary 熔断器状态
// @Tags 运维
// @Produce json
// @Success 200 {object} response.Response{data=[]breaker.Snapshot}
// @Router /api/v1/admin/breakers [get]
func (h *Handler) ListBreakers(c *gin.Context) {
	response.Success(c, h.breakers.Snapshots())
}

// ResetBreaker 手动关闭熔断器（包括配额导致的强制打开）
// @Summary 重置熔断器
// @Tags 运维
// @Produce json
// @Param provider path string true "服务商名称"
// @Success 200 {object} response.Response{data=breaker.Snapshot}
// @Failure 404 {object} response.Response
// @Router /api/v1/admin/breakers/{provider}/reset [post]
func (h *Handler) ResetBreaker(c *gin.Context) {
	name := c.Param("provider")
	if err := h.breakers.Reset(name); err != nil {
		if errors.Is(err, breaker.ErrUnknownProvider) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	b, _ := h.breakers.Get(name)
	response.Success(c, b.Snapshot())
}

// Sweep 立即执行一轮补偿扫描
// @Summary 触发补偿扫描
// @Tags 运维
// @Produce json
// @Success 200 {object} response.Response{data=service.SweepResult}
// @Router /api/v1/admin/outbox/sweep [post]
func (h *Handler) Sweep(c *gin.Context) {
	res, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, res)
}
