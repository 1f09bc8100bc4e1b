package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrImmutableRecord = errors.New("金币流水只允许追加，不可修改或删除")

// TransactionType 金币流水类型
type TransactionType string

const (
	TransactionTypeAIUsage         TransactionType = "AI_USAGE"         // AI 调用扣费
	TransactionTypePurchase        TransactionType = "PURCHASE"         // 充值
	TransactionTypePromotionGrant  TransactionType = "PROMOTION_GRANT"  // 赠送金币发放
	TransactionTypePromotionRevoke TransactionType = "PROMOTION_REVOKE" // 赠送金币回收
)

// CoinTransaction 金币流水（只追加）
// Amount 为带符号金额，扣费为负；BalanceAfter 为变动后的余额快照
type CoinTransaction struct {
	ID              string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID          string          `json:"userId" gorm:"type:uuid;not null;index:idx_coin_tx_user"`
	RoomID          *string         `json:"roomId,omitempty" gorm:"type:uuid;index"`
	MessageID       *string         `json:"messageId,omitempty" gorm:"type:uuid;index"`
	TransactionType TransactionType `json:"transactionType" gorm:"size:32;not null;index:idx_coin_tx_type"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(30,10);not null"`
	BalanceAfter    decimal.Decimal `json:"balanceAfter" gorm:"type:decimal(30,10);not null"`
	Description     string          `json:"description" gorm:"size:500"`
	OperatorID      *string         `json:"operatorId,omitempty" gorm:"type:uuid"` // 管理员操作人
	CreatedAt       time.Time       `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_coin_tx_time"`
}

func (CoinTransaction) TableName() string { return "coin_transactions" }

// BeforeCreate 生成主键
func (t *CoinTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

func (t *CoinTransaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

func (t *CoinTransaction) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}

// ListQuery 流水查询条件
type ListQuery struct {
	UserID   string
	Type     TransactionType
	RoomID   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Normalize 规范分页参数
func (q *ListQuery) Normalize() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
}
