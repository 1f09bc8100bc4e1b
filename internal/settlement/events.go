package settlement

// 推送给客户端的事件名
const (
	EventStarted = "started"
	EventDelta   = "delta"
	EventUsage   = "usage"
	EventError   = "error"
)

// ClientEvent 推送给客户端的事件
// delta 事件的 Data 为原始文本片段，其余为 JSON 对象
type ClientEvent struct {
	Name string
	Data any
}

// StartedPayload 用户消息已写入
type StartedPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

// UsageSummary token 用量
type UsageSummary struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// UsagePayload 最终结果
type UsagePayload struct {
	ResponseID string       `json:"responseId"`
	Content    string       `json:"content"`
	Usage      UsageSummary `json:"usage"`
}

// ErrorPayload 终止错误
type ErrorPayload struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}
