package wallet

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	response "chatcoin/api/handlers/common"
	"chatcoin/internal/audit"
	walletSvc "chatcoin/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handler 金币钱包处理器
type Handler struct {
	svc      *walletSvc.Service
	exporter *audit.Exporter
}

// NewHandler 创建处理器
func NewHandler(svc *walletSvc.Service, exporter *audit.Exporter) *Handler {
	return &Handler{svc: svc, exporter: exporter}
}

// GetWallet 当前用户钱包
// @Summary 获取金币余额
// @Tags Wallet
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/wallet [get]
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.svc.OpenWallet(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: w})
}

// ListTransactions 当前用户金币流水
// @Summary 获取金币流水
// @Tags Wallet
// @Security BearerAuth
// @Produce json
// @Param type query string false "流水类型"
// @Param room_id query string false "聊天室ID"
// @Param from query string false "开始时间 RFC3339"
// @Param to query string false "结束时间 RFC3339"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.APIResponse{data=response.ListResponse}
// @Router /api/wallet/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	q.UserID = c.GetString("user_id")
	h.list(c, q)
}

// ExportTransactions 导出当前用户金币流水
// @Summary 导出金币流水
// @Tags Wallet
// @Security BearerAuth
// @Produce octet-stream
// @Param format query string false "csv 或 json" default(csv)
// @Success 200 {file} file
// @Router /api/wallet/transactions/export [get]
func (h *Handler) ExportTransactions(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	q.UserID = c.GetString("user_id")
	h.export(c, q)
}

// ============ 管理员 ============

// GetUserWallet 指定用户钱包（管理员）
// @Summary 获取指定用户金币余额
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/admin/wallets/{userId} [get]
func (h *Handler) GetUserWallet(c *gin.Context) {
	w, err := h.svc.GetWallet(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(statusOf(err), response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: w})
}

// ListUserTransactions 指定用户金币流水（管理员）
// @Summary 获取指定用户金币流水
// @Tags Wallet
// @Security BearerAuth
// @Param userId path string true "用户ID"
// @Produce json
// @Success 200 {object} response.APIResponse{data=response.ListResponse}
// @Router /api/admin/wallets/{userId}/transactions [get]
func (h *Handler) ListUserTransactions(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	q.UserID = c.Param("userId")
	h.list(c, q)
}

// ExportAll 导出全量金币流水（管理员对账）
// @Summary 导出全部金币流水
// @Tags Wallet
// @Security BearerAuth
// @Produce octet-stream
// @Param user_id query string false "用户ID"
// @Param format query string false "csv 或 json" default(csv)
// @Success 200 {file} file
// @Router /api/admin/transactions/export [get]
func (h *Handler) ExportAll(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	q.UserID = c.Query("user_id")
	h.export(c, q)
}

// Recharge 管理员充值
// @Summary 为用户充值金币
// @Tags Wallet
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param userId path string true "用户ID"
// @Param body body walletSvc.AdjustRequest true "充值请求"
// @Success 200 {object} response.APIResponse
// @Router /api/admin/wallets/{userId}/recharge [post]
func (h *Handler) Recharge(c *gin.Context) {
	h.adjust(c, h.svc.Recharge, "充值成功")
}

// GrantPromotion 发放赠送金币
// @Summary 发放赠送金币
// @Tags Wallet
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param userId path string true "用户ID"
// @Param body body walletSvc.AdjustRequest true "发放请求"
// @Success 200 {object} response.APIResponse
// @Router /api/admin/wallets/{userId}/promotions [post]
func (h *Handler) GrantPromotion(c *gin.Context) {
	h.adjust(c, h.svc.GrantPromotion, "发放成功")
}

// RevokePromotion 回收赠送金币
// @Summary 回收赠送金币
// @Tags Wallet
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param userId path string true "用户ID"
// @Param body body walletSvc.AdjustRequest true "回收请求"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/admin/wallets/{userId}/promotions/revoke [post]
func (h *Handler) RevokePromotion(c *gin.Context) {
	h.adjust(c, h.svc.RevokePromotion, "回收成功")
}

type adjustFunc func(ctx context.Context, req *walletSvc.AdjustRequest) (*walletSvc.Wallet, *audit.CoinTransaction, error)

type adjustResult struct {
	Wallet      *walletSvc.Wallet      `json:"wallet"`
	Transaction *audit.CoinTransaction `json:"transaction"`
}

func (h *Handler) adjust(c *gin.Context, fn adjustFunc, okMsg string) {
	var req walletSvc.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	req.UserID = c.Param("userId")
	req.OperatorID = c.GetString("user_id")

	ctx := c.Request.Context()
	if _, err := h.svc.OpenWallet(ctx, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	w, tx, err := fn(ctx, &req)
	if err != nil {
		c.JSON(statusOf(err), response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: okMsg, Data: adjustResult{Wallet: w, Transaction: tx}})
}

func (h *Handler) list(c *gin.Context, q audit.ListQuery) {
	q.Normalize()
	records, total, err := h.svc.ListTransactions(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: response.NewListResponse(records, q.Page, q.PageSize, total)})
}

func (h *Handler) export(c *gin.Context, q audit.ListQuery) {
	format := audit.ExportFormat(c.DefaultQuery("format", string(audit.FormatCSV)))
	if format != audit.FormatCSV && format != audit.FormatJSON {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "不支持的导出格式"})
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), q, format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Header("X-Total-Count", strconv.Itoa(result.TotalCount))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseListQuery(c *gin.Context) (audit.ListQuery, error) {
	q := audit.ListQuery{
		Type:   audit.TransactionType(c.Query("type")),
		RoomID: c.Query("room_id"),
	}
	q.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	q.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("from 时间格式错误，应为 RFC3339")
		}
		q.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errors.New("to 时间格式错误，应为 RFC3339")
		}
		q.To = &t
	}
	return q, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, walletSvc.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, walletSvc.ErrInvalidAmount),
		errors.Is(err, walletSvc.ErrInsufficientPromotionBalance):
		return http.StatusBadRequest
	case errors.Is(err, walletSvc.ErrConcurrentUpdate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
