package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrRoomNotFound    = errors.New("聊天室不存在")
	ErrMessageNotFound = errors.New("消息不存在")
)

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User 用户（由账户系统维护，这里只读）
type User struct {
	ID        string     `json:"id" gorm:"primaryKey;type:uuid"`
	Username  string     `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Status    UserStatus `json:"status" gorm:"size:20;not null;default:active"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// Room 聊天室，ConversationID 为上游会话标识，每次结算后更新
type Room struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         string    `json:"userId" gorm:"type:uuid;not null;index"`
	Title          string    `json:"title" gorm:"size:200"`
	ConversationID string    `json:"conversationId" gorm:"size:200"`
	CreatedAt      time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (Room) TableName() string { return "chat_rooms" }

// BeforeCreate 生成主键
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus 消息状态
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"   // 已写入，等待结算
	StatusCompleted MessageStatus = "completed" // 已结算
)

// Message 聊天消息
type Message struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	RoomID       string          `json:"roomId" gorm:"type:uuid;not null;index:idx_chat_msg_room"`
	UserID       string          `json:"userId" gorm:"type:uuid;not null;index"`
	Role         MessageRole     `json:"role" gorm:"size:20;not null"`
	Content      string          `json:"content" gorm:"type:text"`
	Files        datatypes.JSON  `json:"files,omitempty"`
	ModelID      string          `json:"modelId" gorm:"type:uuid"`
	Status       MessageStatus   `json:"status" gorm:"size:20;not null;index"`
	InputTokens  int64           `json:"inputTokens" gorm:"not null;default:0"`
	OutputTokens int64           `json:"outputTokens" gorm:"not null;default:0"`
	TotalTokens  int64           `json:"totalTokens" gorm:"not null;default:0"`
	CoinCost     decimal.Decimal `json:"coinCost" gorm:"type:decimal(30,10);not null;default:0"`
	ResponseID   string          `json:"responseId,omitempty" gorm:"size:200"`
	CreatedAt    time.Time       `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_chat_msg_room"`
	UpdatedAt    time.Time       `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (Message) TableName() string { return "chat_messages" }

// BeforeCreate 生成主键
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
