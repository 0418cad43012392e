package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aliasmanager/backend/internal/domain"
)

// Authenticator 使用用户凭证绑定目录
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.Account, error)
}

// TokenIssuer 签发与验证会话令牌
type TokenIssuer interface {
	Issue(username string) (string, error)
	Verify(token string) (string, error)
	Expiry() time.Duration
}

// LoginRecorder 记录登录结果（由监控模块实现）
type LoginRecorder interface {
	RecordLogin(result string)
}

// Session 登录成功后的会话信息
type Session struct {
	Username     string
	Token        string
	ExpiresAt    time.Time
	CookieMaxAge time.Duration
}

// Service 认证服务
//
// 登录流程：未认证 → 用用户凭证绑定目录成功 → 已认证(用户名) → 签发令牌。
// 绑定失败直接结束本次请求，不重试。服务端不保存会话状态。
type Service struct {
	directory    Authenticator
	tokens       TokenIssuer
	cookieMaxAge time.Duration
	logger       *zap.Logger
	recorder     LoginRecorder
}

// NewService 创建认证服务
func NewService(directory Authenticator, tokens TokenIssuer, cookieMaxAge time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		directory:    directory,
		tokens:       tokens,
		cookieMaxAge: cookieMaxAge,
		logger:       logger,
	}
}

// SetRecorder 设置登录结果记录器
func (s *Service) SetRecorder(recorder LoginRecorder) {
	s.recorder = recorder
}

// Login 用户登录
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		s.record(domain.KindInvalidCredentials.String())
		return nil, domain.ErrInvalidCredentials
	}

	account, err := s.directory.Authenticate(ctx, username, password)
	if err != nil {
		kind := domain.KindOf(err)
		s.record(kind.String())
		if kind == domain.KindInvalidCredentials {
			s.logger.Warn("login rejected", zap.String("username", username))
		} else {
			s.logger.Error("login failed", zap.String("username", username), zap.Error(err))
		}
		return nil, err
	}

	token, err := s.tokens.Issue(account.Username)
	if err != nil {
		s.record("error")
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("username", account.Username))
	s.record("success")

	return &Session{
		Username:     account.Username,
		Token:        token,
		ExpiresAt:    time.Now().Add(s.tokens.Expiry()),
		CookieMaxAge: s.cookieMaxAge,
	}, nil
}

// Authenticate 验证令牌并返回用户名
func (s *Service) Authenticate(token string) (string, error) {
	if token == "" {
		return "", domain.ErrInvalidOrExpiredToken
	}
	username, err := s.tokens.Verify(token)
	if err != nil {
		return "", domain.ErrInvalidOrExpiredToken
	}
	return username, nil
}

// CookieMaxAge 令牌 Cookie 的生存时间
func (s *Service) CookieMaxAge() time.Duration {
	return s.cookieMaxAge
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(result)
	}
}
