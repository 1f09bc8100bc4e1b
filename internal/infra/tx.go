package infra

import (
	"context"

	"gorm.io/gorm"
)

// TxFunc 在同一事务中执行的一组写操作
type TxFunc func(tx *gorm.DB) error

// WithTransaction 显式的工作单元：fn 返回 nil 时提交，返回错误或 panic 时整体回滚
func WithTransaction(ctx context.Context, db *gorm.DB, fn TxFunc) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}
