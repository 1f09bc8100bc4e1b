package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount                = errors.New("无效的金币金额")
	ErrInsufficientPromotionBalance = errors.New("赠送金币余额不足")
	ErrInsufficientBalance          = errors.New("金币余额不足")
	ErrWalletNotFound               = errors.New("钱包不存在")
	ErrConcurrentUpdate             = errors.New("钱包已被并发修改")
	ErrInvariantViolation           = errors.New("钱包余额不一致")
)

// Wallet 用户金币钱包
// Balance 为冗余字段，始终等于 PaidBalance + PromotionBalance
type Wallet struct {
	ID                string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID            string          `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_wallet_user"`
	PaidBalance       decimal.Decimal `json:"paidBalance" gorm:"type:decimal(30,10);not null;default:0"`      // 充值金币
	PromotionBalance  decimal.Decimal `json:"promotionBalance" gorm:"type:decimal(30,10);not null;default:0"` // 赠送金币
	Balance           decimal.Decimal `json:"balance" gorm:"type:decimal(30,10);not null;default:0"`
	TotalPurchased    decimal.Decimal `json:"totalPurchased" gorm:"type:decimal(30,10);not null;default:0"` // 累计充值
	TotalUsed         decimal.Decimal `json:"totalUsed" gorm:"type:decimal(30,10);not null;default:0"`      // 累计消耗
	LastTransactionAt *time.Time      `json:"lastTransactionAt"`
	Version           int64           `json:"-" gorm:"not null;default:0"` // 乐观锁版本号
	CreatedAt         time.Time       `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt         time.Time       `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

// ============ 管理端请求 ============

// AdjustRequest 管理员调整金币（充值/赠送/回收）
type AdjustRequest struct {
	UserID      string          `json:"-"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description"`
	OperatorID  string          `json:"-"`
}
