// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// ValidationError 表示输入不合法，在任何写操作之前被拒绝。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation 判断 err 是否为 ValidationError。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrDuplicate 注册时用户名或邮箱已被占用。
	ErrDuplicate = errors.New("username or email already exists")
	// ErrAuth 是所有认证失败的共同父错误。
	ErrAuth = errors.New("authentication failed")
	// ErrInvalidCredentials 用户名不存在与密码错误返回同一个错误。
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrAuth)
	// ErrWrongPassword 修改密码时旧密码不正确。
	ErrWrongPassword = fmt.Errorf("%w: current password is incorrect", ErrAuth)
	// ErrUserNotFound 凭证不存在或已停用。
	ErrUserNotFound = fmt.Errorf("%w: user not found", ErrAuth)
	// ErrOwnership 对话不属于当前身份。调用方应重定向到默认对话，而不是暴露错误。
	ErrOwnership = errors.New("conversation not owned by requester")
	// ErrBackendUnavailable 推理服务不可达或超时。
	ErrBackendUnavailable = errors.New("inference backend unavailable")
	// ErrStorage 存储层意外失败，已在存储边界记录日志。
	ErrStorage = errors.New("storage failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
