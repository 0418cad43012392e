package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aliasmanager/backend/internal/domain"
)

// Claims JWT 自定义声明
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager JWT 管理器
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewManager 创建 JWT 管理器
func NewManager(secret, issuer string, expiry time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Expiry 令牌有效期
func (m *Manager) Expiry() time.Duration {
	return m.expiry
}

// Issue 为用户名签发令牌
func (m *Manager) Issue(username string) (string, error) {
	now := m.now()

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify 验证令牌并返回其中的用户名
//
// 签名、算法、过期等任何失败都返回同一个 ErrInvalidOrExpiredToken，不区分原因。
func (m *Manager) Verify(tokenString string) (string, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", domain.ErrInvalidOrExpiredToken
	}

	if !token.Valid || claims.Username == "" {
		return "", domain.ErrInvalidOrExpiredToken
	}
	return claims.Username, nil
}
