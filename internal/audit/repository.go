package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository 金币流水仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建流水仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx 绑定到事务
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Append 追加一条流水
func (r *Repository) Append(ctx context.Context, rec *CoinTransaction) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("写入金币流水失败: %w", err)
	}
	return nil
}

// List 分页查询流水，按时间倒序
func (r *Repository) List(ctx context.Context, q ListQuery) ([]CoinTransaction, int64, error) {
	q.Normalize()

	query := r.filter(ctx, q)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计金币流水失败: %w", err)
	}

	var records []CoinTransaction
	err := query.Order("created_at DESC, id DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询金币流水失败: %w", err)
	}

	return records, total, nil
}

// FindAll 按条件查询全部流水（导出用），limit 为上限
func (r *Repository) FindAll(ctx context.Context, q ListQuery, limit int) ([]CoinTransaction, error) {
	var records []CoinTransaction
	err := r.filter(ctx, q).Order("created_at ASC, id ASC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询金币流水失败: %w", err)
	}
	return records, nil
}

func (r *Repository) filter(ctx context.Context, q ListQuery) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&CoinTransaction{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if q.Type != "" {
		query = query.Where("transaction_type = ?", q.Type)
	}
	if q.RoomID != "" {
		query = query.Where("room_id = ?", q.RoomID)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}
	return query
}
