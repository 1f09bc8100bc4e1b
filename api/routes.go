package api

import (
	"chatcoin/internal/auth"
	middlewarepkg "chatcoin/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(container.JWTService))

	// 发起对话的接口单独限流
	var streamGuards []gin.HandlerFunc
	if container.RateLimiter != nil {
		streamGuards = append(streamGuards, middlewarepkg.RateLimitMiddleware(container.RateLimiter))
	}

	registerChatRoutes(api, handlers, streamGuards)
	registerWalletRoutes(api, handlers)
	registerBillingRoutes(api, handlers)

	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	registerAdminRoutes(admin, handlers)
}

// registerChatRoutes 聊天室与付费对话
func registerChatRoutes(apiGroup *gin.RouterGroup, h *Handlers, streamGuards []gin.HandlerFunc) {
	guarded := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, streamGuards...), handler)
	}

	chat := apiGroup.Group("/chat")
	{
		chat.POST("/rooms", h.Chat.CreateRoom)
		chat.GET("/rooms", h.Chat.ListRooms)
		chat.GET("/rooms/:roomId/messages", h.Chat.ListMessages)
		chat.POST("/rooms/:roomId/messages/stream", guarded(h.Chat.StreamMessage)...)
		chat.GET("/rooms/:roomId/messages/ws", guarded(h.Chat.StreamMessageWS)...)
	}
}

// registerWalletRoutes 当前用户钱包
func registerWalletRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	wallet := apiGroup.Group("/wallet")
	{
		wallet.GET("", h.Wallet.GetWallet)
		wallet.GET("/transactions", h.Wallet.ListTransactions)
		wallet.GET("/transactions/export", h.Wallet.ExportTransactions)
	}
}

// registerBillingRoutes 模型定价
func registerBillingRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	billing := apiGroup.Group("/billing")
	{
		billing.GET("/models", h.Billing.ListModels)
		billing.POST("/estimate", h.Billing.EstimateCost)
	}
}

// registerAdminRoutes 管理端
func registerAdminRoutes(admin *gin.RouterGroup, h *Handlers) {
	wallets := admin.Group("/wallets/:userId")
	{
		wallets.GET("", h.Wallet.GetUserWallet)
		wallets.GET("/transactions", h.Wallet.ListUserTransactions)
		wallets.POST("/recharge", h.Wallet.Recharge)
		wallets.POST("/promotions", h.Wallet.GrantPromotion)
		wallets.POST("/promotions/revoke", h.Wallet.RevokePromotion)
	}
	admin.GET("/transactions/export", h.Wallet.ExportAll)

	models := admin.Group("/models")
	{
		models.POST("", h.Billing.CreateModel)
		models.PUT("/:id", h.Billing.UpdateModel)
	}

	incidents := admin.Group("/incidents")
	{
		incidents.GET("", h.Incidents.List)
		incidents.POST("/:id/resolve", h.Incidents.Resolve)
	}
}
