package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 钱包仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建钱包仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx 绑定到事务
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByUser 按用户查询钱包
func (r *Repository) FindByUser(ctx context.Context, userID string) (*Wallet, error) {
	return r.find(r.db.WithContext(ctx), userID)
}

// FindByUserForUpdate 事务内加行锁读取钱包（sqlite 忽略锁子句）
func (r *Repository) FindByUserForUpdate(ctx context.Context, userID string) (*Wallet, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID)
}

func (r *Repository) find(db *gorm.DB, userID string) (*Wallet, error) {
	var w Wallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("查询钱包失败: %w", err)
	}
	return &w, nil
}

// Create 创建空钱包
func (r *Repository) Create(ctx context.Context, userID string) (*Wallet, error) {
	w := Wallet{
		ID:               uuid.New().String(),
		UserID:           userID,
		PaidBalance:      decimal.Zero,
		PromotionBalance: decimal.Zero,
		Balance:          decimal.Zero,
		TotalPurchased:   decimal.Zero,
		TotalUsed:        decimal.Zero,
	}
	if err := r.db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, fmt.Errorf("创建钱包失败: %w", err)
	}
	return &w, nil
}

// Save 按版本号写回钱包，版本不匹配返回 ErrConcurrentUpdate
// 成功后 w.Version 自增
func (r *Repository) Save(ctx context.Context, w *Wallet) error {
	res := r.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ? AND version = ?", w.ID, w.Version).
		Updates(map[string]interface{}{
			"paid_balance":        w.PaidBalance,
			"promotion_balance":   w.PromotionBalance,
			"balance":             w.Balance,
			"total_purchased":     w.TotalPurchased,
			"total_used":          w.TotalUsed,
			"last_transaction_at": w.LastTransactionAt,
			"version":             w.Version + 1,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("保存钱包失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	w.Version++
	return nil
}
