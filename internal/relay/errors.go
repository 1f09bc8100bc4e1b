package relay

import (
	"errors"
	"fmt"
)

// ErrorType 中继错误类型
type ErrorType string

const (
	ErrorTypeStatus        ErrorType = "status"         // 上游返回非 2xx
	ErrorTypeNetwork       ErrorType = "network"        // 连接或读取失败
	ErrorTypeUpstream      ErrorType = "upstream"       // 流内 error 事件
	ErrorTypeParse         ErrorType = "parse"          // usage/error 负载无法解析
	ErrorTypeCanceled      ErrorType = "canceled"       // 客户端断开或上下文取消
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 请求无法构造
)

// Error 中继错误
type Error struct {
	Type       ErrorType
	StatusCode int    // 仅 ErrorTypeStatus
	Code       string // 上游 error 事件携带的错误码
	Message    string
	Err        error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Err
}

// TypeOf 取出错误类型，非中继错误返回空
func TypeOf(err error) ErrorType {
	var re *Error
	if errors.As(err, &re) {
		return re.Type
	}
	return ""
}

func parseError(msg string, err error) *Error {
	return &Error{Type: ErrorTypeParse, Message: msg, Err: err}
}

// statusError 非 2xx 响应
func statusError(statusCode int, body []byte) *Error {
	return &Error{
		Type:       ErrorTypeStatus,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("上游接口错误 (HTTP %d): %s", statusCode, string(body)),
	}
}
