package tasks

import "time"

// Task Types
const (
	TypeSettlementIncident = "settlement:incident"
)

// 队列
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// SettlementIncidentPayload 流已完成但结算事务失败时的现场快照
// Charge 为十进制字符串，避免浮点误差
type SettlementIncidentPayload struct {
	UserID        string    `json:"user_id"`
	RoomID        string    `json:"room_id"`
	MessageID     string    `json:"message_id"`
	ModelID       string    `json:"model_id"`
	UserContent   string    `json:"user_content"`
	AssistContent string    `json:"assistant_content"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	TotalTokens   int64     `json:"total_tokens"`
	ResponseID    string    `json:"response_id"`
	Charge        string    `json:"charge"`
	Error         string    `json:"error"`
	OccurredAt    time.Time `json:"occurred_at"`
}
