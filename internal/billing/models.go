package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrModelNotFound = errors.New("模型不存在或已停用")
	ErrInvalidPrice  = errors.New("价格不能为负数")
)

// ============================================================================
// 模型定价
// ============================================================================

// AIModel 可计费的 AI 模型
// 价格单位：每百万 token 的金币数
type AIModel struct {
	ID               string              `json:"id" gorm:"primaryKey;type:uuid"`
	Name             string              `json:"name" gorm:"size:100;not null;uniqueIndex"` // 上游识别的模型名
	Provider         string              `json:"provider" gorm:"size:50"`
	InputPricePer1M  decimal.Decimal     `json:"inputPricePer1M" gorm:"column:input_price_per_1m;type:decimal(30,10);not null;default:0"`
	OutputPricePer1M decimal.Decimal     `json:"outputPricePer1M" gorm:"column:output_price_per_1m;type:decimal(30,10);not null;default:0"`
	MarkupRate       decimal.NullDecimal `json:"markupRate" gorm:"type:decimal(10,6)"` // 为空视为 0
	IsActive         bool                `json:"isActive" gorm:"not null;default:true;index"`
	CreatedAt        time.Time           `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt        time.Time           `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (AIModel) TableName() string { return "ai_models" }

// Priced 生成本次请求使用的不可变定价视图
func (m *AIModel) Priced() PricedModel {
	return PricedModel{
		ID:         m.ID,
		Name:       m.Name,
		InputRate:  EffectiveRate(m.InputPricePer1M, m.MarkupRate),
		OutputRate: EffectiveRate(m.OutputPricePer1M, m.MarkupRate),
	}
}

// PricedModel 已包含加价的有效费率
type PricedModel struct {
	ID         string
	Name       string
	InputRate  decimal.Decimal
	OutputRate decimal.Decimal
}

// Usage 上游返回的 token 用量
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Charge 单次请求费用明细
type Charge struct {
	InputCost  decimal.Decimal `json:"inputCost"`
	OutputCost decimal.Decimal `json:"outputCost"`
	Total      decimal.Decimal `json:"total"`
}

// ============================================================================
// 请求结构
// ============================================================================

// CreateModelRequest 新增模型
type CreateModelRequest struct {
	Name             string           `json:"name" binding:"required"`
	Provider         string           `json:"provider"`
	InputPricePer1M  decimal.Decimal  `json:"inputPricePer1M"`
	OutputPricePer1M decimal.Decimal  `json:"outputPricePer1M"`
	MarkupRate       *decimal.Decimal `json:"markupRate"`
}

// UpdateModelRequest 更新模型定价
type UpdateModelRequest struct {
	InputPricePer1M  *decimal.Decimal `json:"inputPricePer1M"`
	OutputPricePer1M *decimal.Decimal `json:"outputPricePer1M"`
	MarkupRate       *decimal.Decimal `json:"markupRate"`
	IsActive         *bool            `json:"isActive"`
}

// CostEstimateRequest 成本预估
type CostEstimateRequest struct {
	ModelID      string `json:"modelId" binding:"required"`
	InputTokens  int64  `json:"inputTokens" binding:"gte=0"`
	OutputTokens int64  `json:"outputTokens" binding:"gte=0"`
}

// CostEstimate 成本预估结果
type CostEstimate struct {
	ModelID      string          `json:"modelId"`
	Model        string          `json:"model"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	InputRate    decimal.Decimal `json:"inputRate"`
	OutputRate   decimal.Decimal `json:"outputRate"`
	Charge       Charge          `json:"charge"`
}
