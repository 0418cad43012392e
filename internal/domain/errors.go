package domain

import (
	"errors"
	"fmt"
)

// Kind 领域错误类别（封闭集合，边界层按类别分派）
type Kind int

const (
	// KindUnknown 非领域错误
	KindUnknown Kind = iota
	// KindAccountInvalid 用户名在目录中没有或有多个匹配条目
	KindAccountInvalid
	// KindAliasAlreadyExists 别名已存在
	KindAliasAlreadyExists
	// KindAliasDoesNotExist 别名不存在
	KindAliasDoesNotExist
	// KindCantConnectToDirectory 无法连接或绑定目录服务
	KindCantConnectToDirectory
	// KindInvalidOrExpiredToken 令牌无效或已过期
	KindInvalidOrExpiredToken
	// KindInvalidCredentials 登录凭证错误
	KindInvalidCredentials
)

// String 返回类别名称
func (k Kind) String() string {
	switch k {
	case KindAccountInvalid:
		return "AccountInvalid"
	case KindAliasAlreadyExists:
		return "AliasAlreadyExists"
	case KindAliasDoesNotExist:
		return "AliasDoesNotExist"
	case KindCantConnectToDirectory:
		return "CantConnectToDirectory"
	case KindInvalidOrExpiredToken:
		return "InvalidOrExpiredToken"
	case KindInvalidCredentials:
		return "InvalidCredentials"
	default:
		return "Unknown"
	}
}

var (
	// ErrAccountInvalid 账户无效
	ErrAccountInvalid = &Error{Kind: KindAccountInvalid}
	// ErrAliasAlreadyExists 别名已存在
	ErrAliasAlreadyExists = &Error{Kind: KindAliasAlreadyExists}
	// ErrAliasDoesNotExist 别名不存在
	ErrAliasDoesNotExist = &Error{Kind: KindAliasDoesNotExist}
	// ErrCantConnectToDirectory 无法连接目录服务
	ErrCantConnectToDirectory = &Error{Kind: KindCantConnectToDirectory}
	// ErrInvalidOrExpiredToken 令牌无效或已过期
	ErrInvalidOrExpiredToken = &Error{Kind: KindInvalidOrExpiredToken}
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
)

// Error 带类别的领域错误
type Error struct {
	Kind     Kind
	Username string
	Address  string
	Err      error // 底层原因，可为空
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindAccountInvalid:
		msg = fmt.Sprintf("Account %s is invalid", e.Username)
	case KindAliasAlreadyExists:
		msg = fmt.Sprintf("User %s already has an alias for address %s", e.Username, e.Address)
	case KindAliasDoesNotExist:
		msg = fmt.Sprintf("Alias %s was not found on account %s", e.Address, e.Username)
	case KindCantConnectToDirectory:
		msg = "Can not connect or bind to LDAP server"
	case KindInvalidOrExpiredToken:
		msg = "Invalid or expired token"
	case KindInvalidCredentials:
		msg = "Invalid credentials"
	default:
		msg = "unknown error"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层原因
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配，使 errors.Is(err, ErrAccountInvalid) 对任意用户名成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// AccountInvalid 创建账户无效错误
func AccountInvalid(username string) error {
	return &Error{Kind: KindAccountInvalid, Username: username}
}

// AliasAlreadyExists 创建别名已存在错误
func AliasAlreadyExists(username, address string) error {
	return &Error{Kind: KindAliasAlreadyExists, Username: username, Address: address}
}

// AliasDoesNotExist 创建别名不存在错误
func AliasDoesNotExist(username, address string) error {
	return &Error{Kind: KindAliasDoesNotExist, Username: username, Address: address}
}

// CantConnectToDirectory 包装目录连接错误
func CantConnectToDirectory(cause error) error {
	return &Error{Kind: KindCantConnectToDirectory, Err: cause}
}

// KindOf 返回错误链中第一个领域错误的类别
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
