package auth

import (
	"net/http"

	response "chatcoin/api/handlers/common"
	"chatcoin/internal/logger"

	"github.com/gin-gonic/gin"
)

// gin 上下文键
const (
	ContextUserID = "user_id"
	ContextRoles  = "roles"
)

// RoleAdmin 管理员角色
const RoleAdmin = "admin"

// AuthMiddleware JWT 认证中间件
// 浏览器 WebSocket 无法设置请求头，允许通过 access_token 查询参数传递
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "缺少认证令牌",
			})
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "令牌验证失败: " + err.Error(),
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRoles, claims.Roles)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

// RequireRole 角色检查中间件
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "未认证",
			})
			return
		}

		claims := TokenClaims{Roles: c.GetStringSlice(ContextRoles)}
		if !claims.HasRole(requiredRoles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorResponse{
				Code:    "FORBIDDEN",
				Message: "角色权限不足",
			})
			return
		}

		c.Next()
	}
}
