package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aliasmanager/backend/internal/directory/memory"
	"aliasmanager/backend/internal/domain"
)

const (
	testBindDN = "cn=admin,dc=example,dc=com"
	testBindPW = "admin"
	testBaseDN = "ou=people,dc=example,dc=com"
	testUserDN = "uid=user,ou=people,dc=example,dc=com"
)

func newTestDirectory() *memory.Directory {
	dir := memory.New(testBindDN, testBindPW)
	dir.Add(testUserDN, map[string][]string{
		"uid":               {"user"},
		"userPassword":      {"secret"},
		"registeredAddress": {"alias1.user@example.com"},
	})
	dir.Add("uid=empty,ou=people,dc=example,dc=com", map[string][]string{
		"uid":          {"empty"},
		"userPassword": {"secret"},
	})
	return dir
}

func newTestClient(dir *memory.Directory) *Client {
	return NewClient(Options{
		BindDN:       testBindDN,
		BindPassword: testBindPW,
		BaseDN:       testBaseDN,
		UserAttr:     "uid",
		AliasAttr:    "registeredAddress",
	}, MemoryDialer(dir), zap.NewNop())
}

// recordingConn 记录发送到目录的修改请求
type recordingConn struct {
	Conn
	mu       sync.Mutex
	modifies []*ldap.ModifyRequest
	searches []*ldap.SearchRequest
}

func (r *recordingConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	r.mu.Lock()
	r.searches = append(r.searches, req)
	r.mu.Unlock()
	return r.Conn.Search(req)
}

func (r *recordingConn) Modify(req *ldap.ModifyRequest) error {
	r.mu.Lock()
	r.modifies = append(r.modifies, req)
	r.mu.Unlock()
	return r.Conn.Modify(req)
}

func TestClient_ResolveAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("唯一匹配", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		account, err := client.ResolveAccount(ctx, "user")
		require.NoError(t, err)
		assert.Equal(t, "user", account.Username)
		assert.Equal(t, testUserDN, account.DN)
		assert.Equal(t, []string{"alias1.user@example.com"}, account.Aliases)
	})

	t.Run("属性缺失时返回空列表", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		account, err := client.ResolveAccount(ctx, "empty")
		require.NoError(t, err)
		assert.NotNil(t, account.Aliases)
		assert.Empty(t, account.Aliases)
	})

	t.Run("多值属性保留顺序与重复值", func(t *testing.T) {
		dir := newTestDirectory()
		dir.Add("uid=multi,ou=people,dc=example,dc=com", map[string][]string{
			"uid":               {"multi"},
			"registeredAddress": {"b@example.com", "a@example.com", "b@example.com"},
		})
		client := newTestClient(dir)

		account, err := client.ResolveAccount(ctx, "multi")
		require.NoError(t, err)
		assert.Equal(t, []string{"b@example.com", "a@example.com", "b@example.com"}, account.Aliases)
	})

	t.Run("没有匹配", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		_, err := client.ResolveAccount(ctx, "nobody")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrAccountInvalid)
		assert.Equal(t, "Account nobody is invalid", err.Error())
	})

	t.Run("多个匹配", func(t *testing.T) {
		dir := newTestDirectory()
		dir.Add("uid=user,ou=other,ou=people,dc=example,dc=com", map[string][]string{
			"uid": {"user"},
		})
		client := newTestClient(dir)

		_, err := client.ResolveAccount(ctx, "user")
		assert.ErrorIs(t, err, domain.ErrAccountInvalid)
	})

	t.Run("过滤器元字符被转义", func(t *testing.T) {
		dir := newTestDirectory()
		var rec *recordingConn
		client := NewClient(Options{
			BindDN:       testBindDN,
			BindPassword: testBindPW,
			BaseDN:       testBaseDN,
			UserAttr:     "uid",
			AliasAttr:    "registeredAddress",
		}, DialerFunc(func(ctx context.Context) (Conn, error) {
			conn, err := dir.Dial(ctx)
			if err != nil {
				return nil, err
			}
			rec = &recordingConn{Conn: conn}
			return rec, nil
		}), zap.NewNop())

		_, err := client.ResolveAccount(ctx, "*)(uid=*")
		assert.ErrorIs(t, err, domain.ErrAccountInvalid)

		require.Len(t, rec.searches, 1)
		assert.Equal(t, `(uid=\2a\29\28uid=\2a)`, rec.searches[0].Filter)
		assert.Equal(t, testBaseDN, rec.searches[0].BaseDN)
		assert.Equal(t, ldap.ScopeWholeSubtree, rec.searches[0].Scope)
		assert.Equal(t, []string{"registeredAddress"}, rec.searches[0].Attributes)
	})
}

func TestClient_BindOnce(t *testing.T) {
	dir := newTestDirectory()
	client := newTestClient(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ResolveAccount(context.Background(), "user")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), dir.Dials())
	assert.Equal(t, int64(1), dir.Binds())
}

func TestClient_BindFailure(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory()
	dir.FailBind(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad service credentials")))
	client := newTestClient(dir)

	_, err := client.ResolveAccount(ctx, "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCantConnectToDirectory)
	assert.NotErrorIs(t, err, domain.ErrAccountInvalid)

	// 失败的绑定不会被记住
	dir.FailBind(nil)
	account, err := client.ResolveAccount(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, testUserDN, account.DN)
	assert.Equal(t, int64(2), dir.Binds())
}

func TestClient_DialFailure(t *testing.T) {
	dir := newTestDirectory()
	dir.FailDial(errors.New("connection refused"))
	client := newTestClient(dir)

	_, err := client.ResolveAccount(context.Background(), "user")
	assert.ErrorIs(t, err, domain.ErrCantConnectToDirectory)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClient_NetworkErrorInvalidatesConnection(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory()
	client := newTestClient(dir)

	_, err := client.ResolveAccount(ctx, "user")
	require.NoError(t, err)

	dir.FailSearch(ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")))
	_, err = client.ResolveAccount(ctx, "user")
	assert.ErrorIs(t, err, domain.ErrCantConnectToDirectory)

	dir.FailSearch(nil)
	_, err = client.ResolveAccount(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(2), dir.Dials())
	assert.Equal(t, int64(2), dir.Binds())
}

func TestClient_CancelledContext(t *testing.T) {
	client := newTestClient(newTestDirectory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ResolveAccount(ctx, "user")
	assert.ErrorIs(t, err, domain.ErrCantConnectToDirectory)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Modify(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory()
	var rec *recordingConn
	client := NewClient(Options{
		BindDN:       testBindDN,
		BindPassword: testBindPW,
		BaseDN:       testBaseDN,
		UserAttr:     "uid",
		AliasAttr:    "registeredAddress",
	}, DialerFunc(func(ctx context.Context) (Conn, error) {
		conn, err := dir.Dial(ctx)
		if err != nil {
			return nil, err
		}
		rec = &recordingConn{Conn: conn}
		return rec, nil
	}), zap.NewNop())

	require.NoError(t, client.AddAlias(ctx, testUserDN, "alias2.user@example.com"))
	assert.Equal(t, []string{"alias1.user@example.com", "alias2.user@example.com"},
		dir.Values(testUserDN, "registeredAddress"))

	require.NoError(t, client.ReplaceAlias(ctx, testUserDN, "alias1.user@example.com", "alias3.user@example.com"))
	assert.Equal(t, []string{"alias2.user@example.com", "alias3.user@example.com"},
		dir.Values(testUserDN, "registeredAddress"))

	require.NoError(t, client.DeleteAlias(ctx, testUserDN, "alias2.user@example.com"))
	assert.Equal(t, []string{"alias3.user@example.com"}, dir.Values(testUserDN, "registeredAddress"))

	require.Len(t, rec.modifies, 3)

	add := rec.modifies[0]
	assert.Equal(t, testUserDN, add.DN)
	require.Len(t, add.Changes, 1)
	assert.Equal(t, uint(ldap.AddAttribute), add.Changes[0].Operation)
	assert.Equal(t, "registeredAddress", add.Changes[0].Modification.Type)
	assert.Equal(t, []string{"alias2.user@example.com"}, add.Changes[0].Modification.Vals)

	replace := rec.modifies[1]
	require.Len(t, replace.Changes, 2)
	assert.Equal(t, uint(ldap.DeleteAttribute), replace.Changes[0].Operation)
	assert.Equal(t, []string{"alias1.user@example.com"}, replace.Changes[0].Modification.Vals)
	assert.Equal(t, uint(ldap.AddAttribute), replace.Changes[1].Operation)
	assert.Equal(t, []string{"alias3.user@example.com"}, replace.Changes[1].Modification.Vals)

	del := rec.modifies[2]
	require.Len(t, del.Changes, 1)
	assert.Equal(t, uint(ldap.DeleteAttribute), del.Changes[0].Operation)
}

func TestClient_ModifyFailure(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(newTestDirectory())

	// 删除不存在的值由目录拒绝，作为普通错误返回
	err := client.DeleteAlias(ctx, testUserDN, "missing@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCantConnectToDirectory)
	var ldapErr *ldap.Error
	require.ErrorAs(t, err, &ldapErr)
	assert.Equal(t, uint16(ldap.LDAPResultNoSuchAttribute), ldapErr.ResultCode)
}

func TestClient_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("正确密码", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		account, err := client.Authenticate(ctx, "user", "secret")
		require.NoError(t, err)
		assert.Equal(t, testUserDN, account.DN)
	})

	t.Run("错误密码", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		_, err := client.Authenticate(ctx, "user", "wrong")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})

	t.Run("空密码", func(t *testing.T) {
		dir := newTestDirectory()
		client := newTestClient(dir)

		_, err := client.Authenticate(ctx, "user", "")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
		assert.Equal(t, int64(0), dir.Binds())
	})

	t.Run("未知用户", func(t *testing.T) {
		client := newTestClient(newTestDirectory())

		_, err := client.Authenticate(ctx, "nobody", "secret")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
		assert.NotErrorIs(t, err, domain.ErrAccountInvalid)
	})

	t.Run("目录不可用", func(t *testing.T) {
		dir := newTestDirectory()
		dir.FailDial(errors.New("connection refused"))
		client := newTestClient(dir)

		_, err := client.Authenticate(ctx, "user", "secret")
		assert.ErrorIs(t, err, domain.ErrCantConnectToDirectory)
	})
}

func TestClient_Ping(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory()
	client := newTestClient(dir)

	assert.NoError(t, client.Ping(ctx))

	require.NoError(t, client.Close())
	dir.FailDial(errors.New("connection refused"))
	assert.ErrorIs(t, client.Ping(ctx), domain.ErrCantConnectToDirectory)
}
