package incidents

import (
	"errors"
	"net/http"
	"strconv"

	response "chatcoin/api/handlers/common"
	"chatcoin/internal/settlement"

	"github.com/gin-gonic/gin"
)

// Handler 结算异常处理器（管理员）
type Handler struct {
	repo *settlement.IncidentRepository
}

// NewHandler 创建处理器
func NewHandler(repo *settlement.IncidentRepository) *Handler {
	return &Handler{repo: repo}
}

// List 结算异常列表
// @Summary 结算异常列表
// @Description 上游已完成但结算事务失败的请求，需人工核对补扣
// @Tags Incidents
// @Security BearerAuth
// @Produce json
// @Param status query string false "open 仅未处理，all 全部" default(open)
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.APIResponse{data=response.ListResponse}
// @Router /api/admin/incidents [get]
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	onlyOpen := c.DefaultQuery("status", "open") != "all"

	items, total, err := h.repo.List(c.Request.Context(), onlyOpen, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: response.NewListResponse(items, page, pageSize, total)})
}

// Resolve 标记结算异常已处理
// @Summary 处理结算异常
// @Tags Incidents
// @Security BearerAuth
// @Produce json
// @Param id path string true "异常ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/admin/incidents/{id}/resolve [post]
func (h *Handler) Resolve(c *gin.Context) {
	err := h.repo.Resolve(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settlement.ErrIncidentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "已处理"})
}
