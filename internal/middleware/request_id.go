package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatcoin/internal/logger"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// ContextRequestID gin 上下文键
const ContextRequestID = "request_id"

// RequestIDMiddleware 请求 ID 中间件
// 优先沿用上游传入的请求 ID，并注入 context.Context 供日志使用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}

		c.Set(ContextRequestID, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}
