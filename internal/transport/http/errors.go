package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/domain"
	"aliasmanager/backend/internal/middleware"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "Invalid request"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInternalError      = "Internal server error"
	MsgDirectoryDown      = "Can not connect or bind to LDAP server"
)

// StatusForError 按领域错误类别映射 HTTP 状态码，未知错误为 500
func StatusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindAccountInvalid:
		return http.StatusBadRequest
	case domain.KindAliasAlreadyExists:
		return http.StatusConflict
	case domain.KindAliasDoesNotExist:
		return http.StatusNotFound
	case domain.KindInvalidCredentials, domain.KindInvalidOrExpiredToken:
		return http.StatusUnauthorized
	case domain.KindCantConnectToDirectory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写入错误响应
//
// 目录不可用与未知错误不向客户端暴露底层原因，完整错误只写入日志。
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusForError(err)

	switch status {
	case http.StatusInternalServerError:
		log.Error("request failed",
			zap.String("request_id", c.GetString(middleware.ContextRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("username", middleware.Username(c)),
			zap.Error(err),
		)
		InternalError(c)
	case http.StatusServiceUnavailable:
		log.Error("directory unavailable",
			zap.String("request_id", c.GetString(middleware.ContextRequestID)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		Error(c, status, MsgDirectoryDown)
	default:
		Error(c, status, err.Error())
	}
}
