package directory

import (
	"context"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"aliasmanager/backend/internal/directory/memory"
)

// Conn 目录连接的最小操作集合，*ldap.Conn 天然满足
type Conn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(modifyRequest *ldap.ModifyRequest) error
	Close() error
	IsClosing() bool
}

var (
	_ Conn = (*ldap.Conn)(nil)
	_ Conn = (*memory.Conn)(nil)
)

// Dialer 创建新的目录连接
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc 允许将函数作为 Dialer 使用
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial 实现 Dialer 接口
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// MemoryDialer 使用进程内目录拨号
func MemoryDialer(dir *memory.Directory) Dialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		conn, err := dir.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// URLDialer 按 URL 拨号的默认实现，支持 ldap:// 与 ldaps://
type URLDialer struct {
	URL     string
	Timeout time.Duration // 同时约束建连与每个请求
}

// Dial 建立连接并设置请求超时
func (d URLDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := ldap.DialURL(d.URL, ldap.DialWithDialer(&net.Dialer{Timeout: d.Timeout}))
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		conn.SetTimeout(d.Timeout)
	}
	return conn, nil
}
