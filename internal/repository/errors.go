// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("record not found")

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
