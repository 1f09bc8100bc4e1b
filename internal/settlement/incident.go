package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcoin/internal/worker/tasks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrIncidentNotFound = errors.New("结算异常记录不存在")

// IncidentReporter 结算事务失败时上报现场，供人工或脚本补账
type IncidentReporter interface {
	ReportSettlementIncident(ctx context.Context, payload tasks.SettlementIncidentPayload) error
}

// Incident 结算异常记录
type Incident struct {
	ID               string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID           string          `json:"userId" gorm:"type:uuid;not null;index"`
	RoomID           string          `json:"roomId" gorm:"type:uuid"`
	MessageID        string          `json:"messageId" gorm:"type:uuid;uniqueIndex"` // 同一消息重复投递只记一次
	ModelID          string          `json:"modelId" gorm:"type:uuid"`
	UserContent      string          `json:"userContent" gorm:"type:text"`
	AssistantContent string          `json:"assistantContent" gorm:"type:text"`
	InputTokens      int64           `json:"inputTokens"`
	OutputTokens     int64           `json:"outputTokens"`
	TotalTokens      int64           `json:"totalTokens"`
	ResponseID       string          `json:"responseId" gorm:"size:200"`
	Charge           decimal.Decimal `json:"charge" gorm:"type:decimal(30,10);not null;default:0"`
	Error            string          `json:"error" gorm:"type:text"`
	Resolved         bool            `json:"resolved" gorm:"not null;default:false;index"`
	ResolvedBy       *string         `json:"resolvedBy,omitempty" gorm:"type:uuid"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
	OccurredAt       time.Time       `json:"occurredAt" gorm:"not null"`
	CreatedAt        time.Time       `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (Incident) TableName() string { return "settlement_incidents" }

// IncidentRepository 结算异常仓储
type IncidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository 创建仓储
func NewIncidentRepository(db *gorm.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Record 落库一条异常，按 MessageID 幂等
func (r *IncidentRepository) Record(ctx context.Context, p tasks.SettlementIncidentPayload) error {
	charge, err := decimal.NewFromString(p.Charge)
	if err != nil {
		charge = decimal.Zero
	}

	var existing int64
	if err := r.db.WithContext(ctx).Model(&Incident{}).Where("message_id = ?", p.MessageID).Count(&existing).Error; err != nil {
		return fmt.Errorf("查询结算异常失败: %w", err)
	}
	if existing > 0 {
		return nil
	}

	inc := Incident{
		ID:               uuid.New().String(),
		UserID:           p.UserID,
		RoomID:           p.RoomID,
		MessageID:        p.MessageID,
		ModelID:          p.ModelID,
		UserContent:      p.UserContent,
		AssistantContent: p.AssistContent,
		InputTokens:      p.InputTokens,
		OutputTokens:     p.OutputTokens,
		TotalTokens:      p.TotalTokens,
		ResponseID:       p.ResponseID,
		Charge:           charge,
		Error:            p.Error,
		OccurredAt:       p.OccurredAt,
	}
	if err := r.db.WithContext(ctx).Create(&inc).Error; err != nil {
		return fmt.Errorf("写入结算异常失败: %w", err)
	}
	return nil
}

// ReportSettlementIncident 直接落库（未启用任务队列时使用）
func (r *IncidentRepository) ReportSettlementIncident(ctx context.Context, p tasks.SettlementIncidentPayload) error {
	return r.Record(ctx, p)
}

// List 异常列表
func (r *IncidentRepository) List(ctx context.Context, onlyOpen bool, page, pageSize int) ([]Incident, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&Incident{})
	if onlyOpen {
		query = query.Where("resolved = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计结算异常失败: %w", err)
	}

	var items []Incident
	if err := query.Order("occurred_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("查询结算异常失败: %w", err)
	}
	return items, total, nil
}

// Resolve 标记已处理
func (r *IncidentRepository) Resolve(ctx context.Context, id, operatorID string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Incident{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": operatorID,
			"resolved_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("更新结算异常失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrIncidentNotFound
	}
	return nil
}
