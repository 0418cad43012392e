// Package memory 提供进程内的目录实现，行为贴近真实 LDAP 服务器的绑定、搜索与修改语义。
// 用于开发环境（AM_LDAP_URL=memory://）和各包的测试。
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"
)

// Seed YAML 种子文件结构
//
//	bind:
//	  dn: cn=admin,dc=example,dc=com
//	  password: admin
//	entries:
//	  - dn: uid=user,ou=people,dc=example,dc=com
//	    attributes:
//	      uid: [user]
//	      userPassword: [secret]
//	      registeredAddress: [alias1.user@example.com]
type Seed struct {
	Bind struct {
		DN       string `yaml:"dn"`
		Password string `yaml:"password"`
	} `yaml:"bind"`
	Entries []SeedEntry `yaml:"entries"`
}

// SeedEntry 种子条目
type SeedEntry struct {
	DN         string              `yaml:"dn"`
	Attributes map[string][]string `yaml:"attributes"`
}

type entry struct {
	dn    string
	attrs map[string][]string
}

// Directory 进程内目录
type Directory struct {
	mu           sync.RWMutex
	bindDN       string
	bindPassword string
	entries      map[string]*entry
	order        []string

	dialErr   error
	bindErr   error
	searchErr error
	modifyErr error

	dials atomic.Int64
	binds atomic.Int64
}

// New 创建空目录，bindDN/bindPassword 为服务账号凭证
func New(bindDN, bindPassword string) *Directory {
	return &Directory{
		bindDN:       bindDN,
		bindPassword: bindPassword,
		entries:      make(map[string]*entry),
	}
}

// LoadSeedFile 从 YAML 文件创建目录
func LoadSeedFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	d := New(seed.Bind.DN, seed.Bind.Password)
	for _, e := range seed.Entries {
		if strings.TrimSpace(e.DN) == "" {
			return nil, errors.New("seed entry without dn")
		}
		d.Add(e.DN, e.Attributes)
	}
	return d, nil
}

// Add 添加或覆盖条目
func (d *Directory) Add(dn string, attrs map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := normalizeDN(dn)
	if _, exists := d.entries[key]; !exists {
		d.order = append(d.order, key)
	}
	d.entries[key] = &entry{dn: dn, attrs: copyAttrs(attrs)}
}

// Values 返回条目某属性的当前值（属性名大小写不敏感）
func (d *Directory) Values(dn, attr string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[normalizeDN(dn)]
	if !ok {
		return nil
	}
	name, ok := lookupAttr(e.attrs, attr)
	if !ok {
		return nil
	}
	return append([]string(nil), e.attrs[name]...)
}

// FailDial 使后续拨号返回指定错误，nil 表示恢复
func (d *Directory) FailDial(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// FailBind 使后续绑定返回指定错误
func (d *Directory) FailBind(err error) {
	d.mu.Lock()
	d.bindErr = err
	d.mu.Unlock()
}

// FailSearch 使后续搜索返回指定错误
func (d *Directory) FailSearch(err error) {
	d.mu.Lock()
	d.searchErr = err
	d.mu.Unlock()
}

// FailModify 使后续修改返回指定错误
func (d *Directory) FailModify(err error) {
	d.mu.Lock()
	d.modifyErr = err
	d.mu.Unlock()
}

// Dials 已发生的拨号次数
func (d *Directory) Dials() int64 { return d.dials.Load() }

// Binds 已发生的绑定次数（含失败）
func (d *Directory) Binds() int64 { return d.binds.Load() }

// Dial 打开一个新连接
func (d *Directory) Dial(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.dials.Add(1)

	d.mu.RLock()
	err := d.dialErr
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &Conn{dir: d}, nil
}

// Conn 进程内目录连接，方法集与 *ldap.Conn 的子集一致
type Conn struct {
	dir    *Directory
	closed atomic.Bool
	bindDN string
}

// Bind 简单绑定
//
// 服务账号凭证或条目的 userPassword 匹配时成功；空密码视为匿名绑定并成功。
func (c *Conn) Bind(username, password string) error {
	if c.closed.Load() {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	d := c.dir
	d.binds.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.bindErr != nil {
		return d.bindErr
	}

	if password == "" {
		c.bindDN = ""
		return nil
	}
	if strings.EqualFold(normalizeDN(username), normalizeDN(d.bindDN)) && password == d.bindPassword {
		c.bindDN = username
		return nil
	}
	if e, ok := d.entries[normalizeDN(username)]; ok {
		if name, ok := lookupAttr(e.attrs, "userPassword"); ok {
			for _, pw := range e.attrs[name] {
				if pw == password {
					c.bindDN = username
					return nil
				}
			}
		}
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

// Search 执行搜索，仅支持等值与存在性过滤器
func (c *Conn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if c.closed.Load() {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	d := c.dir

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.searchErr != nil {
		return nil, d.searchErr
	}

	attr, value, presence, err := parseEqualityFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorFilterCompile, err)
	}

	base := normalizeDN(req.BaseDN)
	result := &ldap.SearchResult{}
	for _, key := range d.order {
		e := d.entries[key]
		if !inScope(key, base, req.Scope) {
			continue
		}
		name, ok := lookupAttr(e.attrs, attr)
		if !ok {
			continue
		}
		if !presence && !containsFold(e.attrs[name], value) {
			continue
		}
		result.Entries = append(result.Entries, ldap.NewEntry(e.dn, selectAttrs(e.attrs, req.Attributes)))
		if req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit {
			break
		}
	}
	return result, nil
}

// Modify 原子地应用一个修改请求中的全部变更
func (c *Conn) Modify(req *ldap.ModifyRequest) error {
	if c.closed.Load() {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	d := c.dir

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.modifyErr != nil {
		return d.modifyErr
	}

	e, ok := d.entries[normalizeDN(req.DN)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
	}

	attrs := copyAttrs(e.attrs)
	for _, change := range req.Changes {
		if err := applyChange(attrs, change); err != nil {
			return err
		}
	}
	e.attrs = attrs
	return nil
}

// Close 关闭连接
func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

// IsClosing 连接是否已关闭
func (c *Conn) IsClosing() bool {
	return c.closed.Load()
}

func applyChange(attrs map[string][]string, change ldap.Change) error {
	typ := change.Modification.Type
	name, exists := lookupAttr(attrs, typ)
	if !exists {
		name = typ
	}

	switch change.Operation {
	case ldap.AddAttribute:
		for _, v := range change.Modification.Vals {
			if contains(attrs[name], v) {
				return ldap.NewError(ldap.LDAPResultAttributeOrValueExists,
					fmt.Errorf("value %q already exists in %s", v, typ))
			}
			attrs[name] = append(attrs[name], v)
		}
	case ldap.DeleteAttribute:
		if !exists {
			return ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("no such attribute: %s", typ))
		}
		if len(change.Modification.Vals) == 0 {
			delete(attrs, name)
			return nil
		}
		for _, v := range change.Modification.Vals {
			if !contains(attrs[name], v) {
				return ldap.NewError(ldap.LDAPResultNoSuchAttribute,
					fmt.Errorf("value %q not present in %s", v, typ))
			}
			attrs[name] = without(attrs[name], v)
		}
		if len(attrs[name]) == 0 {
			delete(attrs, name)
		}
	case ldap.ReplaceAttribute:
		if len(change.Modification.Vals) == 0 {
			delete(attrs, name)
			return nil
		}
		attrs[name] = append([]string(nil), change.Modification.Vals...)
	default:
		return ldap.NewError(ldap.LDAPResultProtocolError, fmt.Errorf("unsupported operation %d", change.Operation))
	}
	return nil
}

// parseEqualityFilter 解析 (attr=value) 形式的过滤器，value 为 * 时表示存在性匹配
func parseEqualityFilter(filter string) (attr, value string, presence bool, err error) {
	filter = strings.TrimSpace(filter)
	if len(filter) < 2 || filter[0] != '(' || filter[len(filter)-1] != ')' {
		return "", "", false, fmt.Errorf("malformed filter %q", filter)
	}
	inner := filter[1 : len(filter)-1]
	if inner == "" || strings.ContainsAny(inner[:1], "&|!(") {
		return "", "", false, fmt.Errorf("unsupported filter %q", filter)
	}

	idx := strings.IndexByte(inner, '=')
	if idx <= 0 {
		return "", "", false, fmt.Errorf("malformed filter %q", filter)
	}
	attr, raw := inner[:idx], inner[idx+1:]
	if raw == "*" {
		return attr, "", true, nil
	}
	if strings.ContainsAny(raw, "()*") {
		return "", "", false, fmt.Errorf("unsupported filter %q", filter)
	}

	value, err = unescapeFilterValue(raw)
	if err != nil {
		return "", "", false, err
	}
	return attr, value, false, nil
}

// unescapeFilterValue 还原 RFC 4515 的 \hh 转义
func unescapeFilterValue(raw string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' {
			b.WriteByte(raw[i])
			continue
		}
		if i+2 >= len(raw) {
			return "", fmt.Errorf("truncated escape in %q", raw)
		}
		v, err := strconv.ParseUint(raw[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid escape in %q", raw)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func inScope(dn, base string, scope int) bool {
	switch scope {
	case ldap.ScopeBaseObject:
		return dn == base
	case ldap.ScopeSingleLevel:
		idx := strings.IndexByte(dn, ',')
		return idx > 0 && dn[idx+1:] == base
	default:
		return base == "" || dn == base || strings.HasSuffix(dn, ","+base)
	}
}

func selectAttrs(attrs map[string][]string, requested []string) map[string][]string {
	out := make(map[string][]string)
	if len(requested) == 0 {
		return copyAttrs(attrs)
	}
	for _, want := range requested {
		switch want {
		case "*":
			return copyAttrs(attrs)
		case "1.1":
			continue
		}
		if name, ok := lookupAttr(attrs, want); ok {
			out[name] = append([]string(nil), attrs[name]...)
		}
	}
	return out
}

func lookupAttr(attrs map[string][]string, name string) (string, bool) {
	for key := range attrs {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

func normalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}

func copyAttrs(attrs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

func without(values []string, v string) []string {
	out := values[:0:0]
	for _, existing := range values {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
