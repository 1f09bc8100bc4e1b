package settlement

import (
	"errors"
	"fmt"
)

// ErrorKind 结算错误分类
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindForbidden           ErrorKind = "FORBIDDEN"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindConflict            ErrorKind = "CONFLICT"
	KindInvalidRequest      ErrorKind = "INVALID_REQUEST"
	KindUpstream            ErrorKind = "UPSTREAM_ERROR"
	KindParse               ErrorKind = "PARSE_ERROR"
	KindPersistence         ErrorKind = "PERSISTENCE_ERROR"
	KindCanceled            ErrorKind = "CANCELED"
)

// Error 结算错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 取出错误分类
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
