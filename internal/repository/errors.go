// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 表示记录不存在（或凭证已停用）。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 表示唯一约束冲突。
	ErrDuplicate = errors.New("duplicate record")
)

// translate 将 GORM 错误映射为仓储层错误，其余错误原样返回。
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
