package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// 上游事件类型
const (
	KindResponse = "response"
	KindUsage    = "usage"
	KindError    = "error"
)

// Event 解码后的上游事件
// Structured 为 true 时 Payload 是 JSON 对象，Kind 优先取其中的 type 字段
type Event struct {
	Kind       string
	Payload    []byte
	Structured bool
}

// Decode 两阶段解码：先尝试按 JSON 对象解析，失败则退回事件行类型与原始文本
func Decode(raw RawEvent) Event {
	ev := Event{Kind: raw.Type, Payload: []byte(raw.Data)}

	trimmed := bytes.TrimSpace(ev.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ev
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return ev
	}

	ev.Structured = true
	if envelope.Type != "" {
		ev.Kind = envelope.Type
	}
	return ev
}

// UsageReport 上游返回的用量
type UsageReport struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	ResponseID   string `json:"response_id"`
}

// Delta 取出内容增量；负载形状不符或是残缺 JSON 时 ok 为 false
func (e Event) Delta() (string, bool) {
	if !e.Structured {
		if bytes.HasPrefix(bytes.TrimSpace(e.Payload), []byte("{")) {
			return "", false
		}
		return string(e.Payload), true
	}

	var body struct {
		Data *string `json:"data"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil || body.Data == nil {
		return "", false
	}
	return *body.Data, true
}

// Usage 解析 usage 负载，字段可位于顶层或嵌套在 data/usage 下
func (e Event) Usage() (*UsageReport, error) {
	var body struct {
		UsageReport
		Data  *UsageReport `json:"data"`
		Usage *UsageReport `json:"usage"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return nil, parseError("usage 事件解析失败", err)
	}

	report := body.UsageReport
	switch {
	case body.Usage != nil:
		report = mergeResponseID(*body.Usage, report.ResponseID)
	case body.Data != nil:
		report = mergeResponseID(*body.Data, report.ResponseID)
	}

	if report.InputTokens < 0 || report.OutputTokens < 0 || report.TotalTokens < 0 {
		return nil, parseError(fmt.Sprintf("usage 事件 token 数为负: %+v", report), nil)
	}
	if report.TotalTokens == 0 {
		report.TotalTokens = report.InputTokens + report.OutputTokens
	}
	return &report, nil
}

func mergeResponseID(r UsageReport, outer string) UsageReport {
	if r.ResponseID == "" {
		r.ResponseID = outer
	}
	return r
}

// UpstreamError 将 error 事件转换为中继错误
// 支持 {"code","message"}、{"error":{...}}、{"error":"..."} 以及纯文本
func (e Event) UpstreamError() *Error {
	text := strings.TrimSpace(string(e.Payload))
	if !e.Structured {
		if strings.HasPrefix(text, "{") {
			return parseError("error 事件解析失败", fmt.Errorf("非法 JSON: %s", text))
		}
		if text == "" {
			text = "上游返回错误"
		}
		return &Error{Type: ErrorTypeUpstream, Message: text}
	}

	var body struct {
		errorBody
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return parseError("error 事件解析失败", err)
	}

	detail := body.errorBody
	if len(body.Error) > 0 && string(body.Error) != "null" {
		var nested errorBody
		var msg string
		switch {
		case json.Unmarshal(body.Error, &nested) == nil:
			detail = nested
		case json.Unmarshal(body.Error, &msg) == nil:
			detail.Message = msg
		}
	}

	if detail.Message == "" {
		detail.Message = "上游返回错误"
	}
	return &Error{Type: ErrorTypeUpstream, Code: detail.code(), Message: detail.Message}
}

type errorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// code 兼容字符串与数字错误码
func (b errorBody) code() string {
	if len(b.Code) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Code, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(b.Code))
}
