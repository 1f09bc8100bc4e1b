package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Repository 用户、聊天室与消息仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx 绑定到事务
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindUser 查询用户
func (r *Repository) FindUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &u, nil
}

// FindRoom 查询聊天室
func (r *Repository) FindRoom(ctx context.Context, id string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("查询聊天室失败: %w", err)
	}
	return &room, nil
}

// CreateRoom 创建聊天室
func (r *Repository) CreateRoom(ctx context.Context, room *Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("创建聊天室失败: %w", err)
	}
	return nil
}

// ListRooms 用户的聊天室，最近更新的在前
func (r *Repository) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	var rooms []Room
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("查询聊天室失败: %w", err)
	}
	return rooms, nil
}

// UpdateRoomConversation 更新聊天室的上游会话标识
func (r *Repository) UpdateRoomConversation(ctx context.Context, roomID, conversationID string) error {
	res := r.db.WithContext(ctx).Model(&Room{}).
		Where("id = ?", roomID).
		Update("conversation_id", conversationID)
	if res.Error != nil {
		return fmt.Errorf("更新会话标识失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// CreateMessage 写入消息
func (r *Repository) CreateMessage(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// UpdateMessage 回写消息的结算字段
func (r *Repository) UpdateMessage(ctx context.Context, m *Message) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"status":        m.Status,
			"input_tokens":  m.InputTokens,
			"output_tokens": m.OutputTokens,
			"total_tokens":  m.TotalTokens,
			"coin_cost":     m.CoinCost,
			"response_id":   m.ResponseID,
		})
	if res.Error != nil {
		return fmt.Errorf("更新消息失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 删除消息（补偿用），不存在时不报错
func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Message{}).Error; err != nil {
		return fmt.Errorf("删除消息失败: %w", err)
	}
	return nil
}

// FindMessage 查询消息
func (r *Repository) FindMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	return &m, nil
}

// RecentHistory 最近 limit 条已完成消息，按时间正序返回
func (r *Repository) RecentHistory(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, StatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("查询历史消息失败: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages 聊天室消息分页，按时间正序
func (r *Repository) ListMessages(ctx context.Context, roomID string, page, pageSize int) ([]Message, int64, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}

	query := r.db.WithContext(ctx).Model(&Message{}).Where("room_id = ?", roomID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计消息失败: %w", err)
	}

	var msgs []Message
	if err := query.Order("created_at ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&msgs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询消息失败: %w", err)
	}
	return msgs, total, nil
}
