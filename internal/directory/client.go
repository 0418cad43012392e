package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/config"
	"aliasmanager/backend/internal/domain"
)

// Observer 接收每次目录操作的耗时与结果（用于监控）
type Observer func(operation string, duration time.Duration, err error)

// Options 目录客户端配置
type Options struct {
	BindDN       string // 服务账号 DN
	BindPassword string // 服务账号密码
	BaseDN       string // 用户搜索基准 DN
	UserAttr     string // 用户名属性
	AliasAttr    string // 别名属性
}

// OptionsFromConfig 从系统配置生成客户端配置
func OptionsFromConfig(cfg config.LDAPConfig) Options {
	return Options{
		BindDN:       cfg.BindDN,
		BindPassword: cfg.BindPW,
		BaseDN:       cfg.UserDN,
		UserAttr:     cfg.UserAttr,
		AliasAttr:    cfg.AliasAttr,
	}
}

// Client 目录客户端
//
// 所有请求共享一个服务账号连接。连接在首次使用时建立并绑定，
// 绑定成功后在连接生命周期内只执行一次；并发的首次请求不会重复绑定。
// 绑定失败不会被记住，下一个请求会重新尝试（单个请求内不重试）。
type Client struct {
	opts     Options
	dialer   Dialer
	log      *zap.Logger
	observer Observer

	mu    sync.Mutex
	conn  Conn
	bound atomic.Bool
}

// NewClient 创建目录客户端，不会立即连接
func NewClient(opts Options, dialer Dialer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		dialer: dialer,
		log:    log,
	}
}

// SetObserver 设置操作观察者
func (c *Client) SetObserver(observer Observer) {
	c.observer = observer
}

// session 返回已绑定的共享连接，必要时拨号并绑定
func (c *Client) session(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.CantConnectToDirectory(err)
	}

	if c.bound.Load() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil && !conn.IsClosing() {
			return conn, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 其他 goroutine 可能已完成绑定
	if c.bound.Load() && c.conn != nil && !c.conn.IsClosing() {
		return c.conn, nil
	}
	c.resetLocked()

	c.log.Info("connecting to directory", zap.String("bind_dn", c.opts.BindDN))
	start := time.Now()

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.observe("dial", start, err)
		c.log.Error("failed to connect to directory", zap.Error(err))
		return nil, domain.CantConnectToDirectory(err)
	}

	if err := conn.Bind(c.opts.BindDN, c.opts.BindPassword); err != nil {
		c.observe("bind", start, err)
		_ = conn.Close()
		c.log.Error("failed to bind to directory",
			zap.String("bind_dn", c.opts.BindDN),
			zap.Error(err),
		)
		return nil, domain.CantConnectToDirectory(err)
	}
	c.observe("bind", start, nil)

	c.conn = conn
	c.bound.Store(true)
	c.log.Info("bound to directory", zap.String("bind_dn", c.opts.BindDN))
	return conn, nil
}

// invalidate 丢弃出现网络错误的共享连接，下一个请求会重新拨号
func (c *Client) invalidate(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.resetLocked()
	}
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.bound.Store(false)
}

// Close 关闭共享连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}

// ResolveAccount 根据用户名查找唯一的账户条目
//
// 在基准 DN 下做子树搜索，过滤器为 (<用户名属性>=<转义后的用户名>)。
// 没有或有多个匹配时返回 AccountInvalid。
func (c *Client) ResolveAccount(ctx context.Context, username string) (*domain.Account, error) {
	conn, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf("(%s=%s)", c.opts.UserAttr, ldap.EscapeFilter(username))
	c.log.Debug("searching directory",
		zap.String("base_dn", c.opts.BaseDN),
		zap.String("filter", filter),
	)

	req := ldap.NewSearchRequest(
		c.opts.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		[]string{c.opts.AliasAttr},
		nil,
	)

	start := time.Now()
	res, err := conn.Search(req)
	c.observe("search", start, err)
	if err != nil {
		if isConnectivityError(err) {
			c.invalidate(conn)
			return nil, domain.CantConnectToDirectory(err)
		}
		return nil, fmt.Errorf("search account %s: %w", username, err)
	}

	if len(res.Entries) != 1 {
		c.log.Warn("account lookup did not match exactly one entry",
			zap.String("username", username),
			zap.Int("matches", len(res.Entries)),
		)
		return nil, domain.AccountInvalid(username)
	}

	entry := res.Entries[0]
	return &domain.Account{
		Username: username,
		DN:       entry.DN,
		Aliases:  normalizeValues(entry.GetEqualFoldAttributeValues(c.opts.AliasAttr)),
	}, nil
}

// AddAlias 为条目添加一个别名值
func (c *Client) AddAlias(ctx context.Context, dn, address string) error {
	return c.modify(ctx, "add", dn, func(req *ldap.ModifyRequest) {
		req.Add(c.opts.AliasAttr, []string{address})
	})
}

// DeleteAlias 删除条目的一个别名值
func (c *Client) DeleteAlias(ctx context.Context, dn, address string) error {
	return c.modify(ctx, "delete", dn, func(req *ldap.ModifyRequest) {
		req.Delete(c.opts.AliasAttr, []string{address})
	})
}

// ReplaceAlias 在一个修改请求中先删除旧值再添加新值
func (c *Client) ReplaceAlias(ctx context.Context, dn, oldAddress, newAddress string) error {
	return c.modify(ctx, "replace", dn, func(req *ldap.ModifyRequest) {
		req.Delete(c.opts.AliasAttr, []string{oldAddress})
		req.Add(c.opts.AliasAttr, []string{newAddress})
	})
}

func (c *Client) modify(ctx context.Context, operation, dn string, build func(req *ldap.ModifyRequest)) error {
	conn, err := c.session(ctx)
	if err != nil {
		return err
	}

	req := ldap.NewModifyRequest(dn, nil)
	build(req)

	start := time.Now()
	err = conn.Modify(req)
	c.observe("modify", start, err)
	if err != nil {
		if isConnectivityError(err) {
			c.invalidate(conn)
			return domain.CantConnectToDirectory(err)
		}
		c.log.Error("directory modify failed",
			zap.String("operation", operation),
			zap.String("dn", dn),
			zap.Error(err),
		)
		return fmt.Errorf("modify %s (%s): %w", dn, operation, err)
	}
	return nil
}

// Authenticate 使用用户提供的密码绑定其条目以验证身份
//
// 用户绑定在独立的短连接上进行，不影响共享的服务账号连接。
func (c *Client) Authenticate(ctx context.Context, username, password string) (*domain.Account, error) {
	// 空密码会被目录当作匿名绑定接受
	if password == "" {
		return nil, &domain.Error{Kind: domain.KindInvalidCredentials, Username: username}
	}

	account, err := c.ResolveAccount(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrAccountInvalid) {
			return nil, &domain.Error{Kind: domain.KindInvalidCredentials, Username: username}
		}
		return nil, err
	}

	start := time.Now()
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.observe("dial", start, err)
		return nil, domain.CantConnectToDirectory(err)
	}
	defer conn.Close()

	err = conn.Bind(account.DN, password)
	c.observe("user_bind", start, err)
	if err != nil {
		if !ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) && isConnectivityError(err) {
			return nil, domain.CantConnectToDirectory(err)
		}
		c.log.Warn("user bind rejected",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, &domain.Error{Kind: domain.KindInvalidCredentials, Username: username}
	}

	return account, nil
}

// Ping 检查目录可达：确保已绑定并读取基准条目
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.session(ctx)
	if err != nil {
		return err
	}

	req := ldap.NewSearchRequest(
		c.opts.BaseDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"1.1"},
		nil,
	)
	if _, err := conn.Search(req); err != nil {
		if isConnectivityError(err) {
			c.invalidate(conn)
			return domain.CantConnectToDirectory(err)
		}
		// 基准条目不存在等协议层错误说明目录本身是可达的
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) observe(operation string, start time.Time, err error) {
	if c.observer != nil {
		c.observer(operation, time.Since(start), err)
	}
}

// normalizeValues 将属性值规范化为非空切片，保留原始顺序与重复值
func normalizeValues(values []string) []string {
	out := make([]string, 0, len(values))
	return append(out, values...)
}

// isConnectivityError 判断错误是否属于网络/超时/服务不可用
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultTimeLimitExceeded,
	) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
