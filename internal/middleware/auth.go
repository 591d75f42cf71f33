// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"study-gateway/pkg/log"
	"study-gateway/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextUserID 是认证后用户 ID 在 Gin 上下文中的键。
const ContextUserID = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 令牌由外部身份服务签发，这里只校验签名与有效期，并把用户 ID 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing authorization header.")
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c, "Invalid authorization header format.")
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("token 校验失败: %v", err)
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}

		c.Set(ContextUserID, claims.Identity())
		c.Set("claims", claims)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error_code":       "AUTHENTICATION_FAILED",
		"response":         msg,
		"upgrade_required": false,
	})
}
