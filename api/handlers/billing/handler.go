package billing

import (
	"errors"
	"net/http"

	response "chatcoin/api/handlers/common"
	"chatcoin/internal/billing"

	"github.com/gin-gonic/gin"
)

// Handler 模型定价 API 处理器
type Handler struct {
	service *billing.Service
}

// NewHandler 创建处理器
func NewHandler(service *billing.Service) *Handler {
	return &Handler{service: service}
}

// ============================================================================
// 模型定价
// ============================================================================

// ListModels 可用模型及定价
// @Summary 获取模型定价列表
// @Tags Billing
// @Security BearerAuth
// @Produce json
// @Param all query bool false "包含已停用模型（管理员）"
// @Success 200 {object} response.APIResponse{data=[]billing.AIModel}
// @Router /api/billing/models [get]
func (h *Handler) ListModels(c *gin.Context) {
	activeOnly := c.Query("all") != "true"
	models, err := h.service.ListModels(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: models})
}

// EstimateCost 预估调用成本
// @Summary 预估金币消耗
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body billing.CostEstimateRequest true "预估请求"
// @Success 200 {object} response.APIResponse{data=billing.CostEstimate}
// @Failure 404 {object} response.ErrorResponse
// @Router /api/billing/estimate [post]
func (h *Handler) EstimateCost(c *gin.Context) {
	var req billing.CostEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	estimate, err := h.service.EstimateCost(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusOf(err), response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: estimate})
}

// CreateModel 新增模型定价（管理员）
// @Summary 新增模型
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body billing.CreateModelRequest true "模型定价"
// @Success 201 {object} response.APIResponse{data=billing.AIModel}
// @Router /api/admin/models [post]
func (h *Handler) CreateModel(c *gin.Context) {
	var req billing.CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	model, err := h.service.CreateModel(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusOf(err), response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: model, Message: "创建成功"})
}

// UpdateModel 更新模型定价或启停（管理员）
// @Summary 更新模型定价
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "模型ID"
// @Param body body billing.UpdateModelRequest true "更新内容"
// @Success 200 {object} response.APIResponse
// @Router /api/admin/models/{id} [put]
func (h *Handler) UpdateModel(c *gin.Context) {
	var req billing.UpdateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.service.UpdateModel(c.Request.Context(), c.Param("id"), &req); err != nil {
		c.JSON(statusOf(err), response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "更新成功"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, billing.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrInvalidPrice):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
