package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextUsername 认证后用户名在 gin 上下文中的键
const ContextUsername = "username"

// TokenVerifier 验证令牌并返回用户名
type TokenVerifier interface {
	Authenticate(token string) (string, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	verifier   TokenVerifier
	cookieName string
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(verifier TokenVerifier, cookieName string, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		verifier:   verifier,
		cookieName: cookieName,
		log:        log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ja.ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "Authentication required",
			})
			return
		}

		username, err := ja.verifier.Authenticate(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": err.Error(),
			})
			return
		}

		// 将用户信息存储到上下文
		c.Set(ContextUsername, username)

		c.Next()
	}
}

// ExtractToken 从请求中提取JWT token：优先 Cookie，其次 Authorization 头
func (ja *JWTAuth) ExtractToken(c *gin.Context) string {
	// 1. 从 cookie 提取
	if token, err := c.Cookie(ja.cookieName); err == nil && token != "" {
		return token
	}

	// 2. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// Username 返回当前请求的认证用户名
func Username(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
