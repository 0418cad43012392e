package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/auth"
)

// AuthHandler 处理登录、登出与令牌签发请求
type AuthHandler struct {
	authService *auth.Service // 认证业务服务
	cookieName  string        // 令牌 Cookie 名称
	log         *zap.Logger   // 结构化日志记录器
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, cookieName string, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		cookieName:  cookieName,
		log:         log,
	}
}

// Login 使用 Basic 认证登录
//
// GET /api/auth/login
// 成功时返回令牌，并写入 HttpOnly Cookie。
func (h *AuthHandler) Login(c *gin.Context) {
	session, ok := h.login(c)
	if !ok {
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(session.CookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	Success(c, TokenResponse{Token: session.Token})
}

// Token 使用 Basic 认证签发令牌，不写 Cookie
//
// GET /api/token
func (h *AuthHandler) Token(c *gin.Context) {
	session, ok := h.login(c)
	if !ok {
		return
	}
	Success(c, TokenResponse{Token: session.Token})
}

// Logout 清除令牌 Cookie
//
// GET /api/auth/logout
// 令牌本身无法吊销，过期前仍然有效。
func (h *AuthHandler) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	NoContent(c)
}

// login 解析 Basic 凭证并调用认证服务，失败时已写入响应
func (h *AuthHandler) login(c *gin.Context) (*auth.Session, bool) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		c.Header("WWW-Authenticate", `Basic realm="aliasmanager"`)
		Unauthorized(c, MsgInvalidCredentials)
		return nil, false
	}

	session, err := h.authService.Login(c.Request.Context(), username, password)
	if err != nil {
		if StatusForError(err) == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", `Basic realm="aliasmanager"`)
		}
		respondError(c, h.log, err)
		return nil, false
	}
	return session, true
}
