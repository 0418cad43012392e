package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Messages(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "账户无效",
			err:      AccountInvalid("user"),
			expected: "Account user is invalid",
		},
		{
			name:     "别名已存在",
			err:      AliasAlreadyExists("user", "alias1.user@example.com"),
			expected: "User user already has an alias for address alias1.user@example.com",
		},
		{
			name:     "别名不存在",
			err:      AliasDoesNotExist("user", "alias9.user@example.com"),
			expected: "Alias alias9.user@example.com was not found on account user",
		},
		{
			name:     "目录连接失败携带原因",
			err:      CantConnectToDirectory(errors.New("dial tcp: connection refused")),
			expected: "Can not connect or bind to LDAP server: dial tcp: connection refused",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("create alias: %w", AliasAlreadyExists("user", "a@example.com"))

	assert.True(t, errors.Is(err, ErrAliasAlreadyExists))
	assert.False(t, errors.Is(err, ErrAliasDoesNotExist))
	assert.False(t, errors.Is(errors.New("plain"), ErrAccountInvalid))
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("timeout")
	err := CantConnectToDirectory(cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrCantConnectToDirectory))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAccountInvalid, KindOf(AccountInvalid("x")))
	assert.Equal(t, KindAliasDoesNotExist, KindOf(fmt.Errorf("wrapped: %w", AliasDoesNotExist("x", "y"))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, "AliasAlreadyExists", KindAliasAlreadyExists.String())
}
