package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service 模型定价服务
type Service struct {
	db *gorm.DB
}

// NewService 创建定价服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithTx 绑定到事务
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx}
}

// LoadActiveModel 加载启用中的模型，不存在或已停用返回 ErrModelNotFound
func (s *Service) LoadActiveModel(ctx context.Context, id string) (*AIModel, error) {
	var m AIModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("查询模型失败: %w", err)
	}
	return &m, nil
}

// ListModels 模型列表
func (s *Service) ListModels(ctx context.Context, activeOnly bool) ([]AIModel, error) {
	query := s.db.WithContext(ctx).Model(&AIModel{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var models []AIModel
	if err := query.Order("name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("查询模型列表失败: %w", err)
	}
	return models, nil
}

// CreateModel 新增模型定价
func (s *Service) CreateModel(ctx context.Context, req *CreateModelRequest) (*AIModel, error) {
	if req.InputPricePer1M.IsNegative() || req.OutputPricePer1M.IsNegative() {
		return nil, ErrInvalidPrice
	}

	m := AIModel{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Provider:         req.Provider,
		InputPricePer1M:  req.InputPricePer1M,
		OutputPricePer1M: req.OutputPricePer1M,
		IsActive:         true,
	}
	if req.MarkupRate != nil {
		m.MarkupRate = decimal.NewNullDecimal(*req.MarkupRate)
	}

	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("创建模型失败: %w", err)
	}
	return &m, nil
}

// UpdateModel 更新定价或启停状态
func (s *Service) UpdateModel(ctx context.Context, id string, req *UpdateModelRequest) error {
	updates := make(map[string]interface{})
	if req.InputPricePer1M != nil {
		if req.InputPricePer1M.IsNegative() {
			return ErrInvalidPrice
		}
		updates["input_price_per_1m"] = *req.InputPricePer1M
	}
	if req.OutputPricePer1M != nil {
		if req.OutputPricePer1M.IsNegative() {
			return ErrInvalidPrice
		}
		updates["output_price_per_1m"] = *req.OutputPricePer1M
	}
	if req.MarkupRate != nil {
		updates["markup_rate"] = decimal.NewNullDecimal(*req.MarkupRate)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AIModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新模型失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrModelNotFound
	}
	return nil
}

// EstimateCost 预估成本
func (s *Service) EstimateCost(ctx context.Context, req *CostEstimateRequest) (*CostEstimate, error) {
	m, err := s.LoadActiveModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}

	priced := m.Priced()
	return &CostEstimate{
		ModelID:      m.ID,
		Model:        m.Name,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		InputRate:    priced.InputRate,
		OutputRate:   priced.OutputRate,
		Charge:       Calculate(Usage{InputTokens: req.InputTokens, OutputTokens: req.OutputTokens}, priced),
	}, nil
}
