package relay

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// RawEvent 一次分发的 SSE 事件：最近的 event 类型和拼接后的 data
type RawEvent struct {
	Type string
	Data string
}

// Scanner 逐行解析 SSE 字节流
//
// 规则：
//   - 空行分发缓冲中的 data（非空时）
//   - ":" 开头为注释
//   - "event:" 设置事件类型
//   - "data:" 去掉一个前导空格后追加，多行以 "\n" 连接
//   - 其他非空行视为额外的 data 片段
//   - 读到 EOF 时缓冲中的 data 仍会分发
type Scanner struct {
	r         *bufio.Reader
	eventType string
	lines     []string
	done      bool
}

// NewScanner 创建 SSE 解析器
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next 返回下一个事件，流结束返回 io.EOF
func (s *Scanner) Next() (RawEvent, error) {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return RawEvent{}, err
		}
		if errors.Is(err, io.EOF) {
			s.done = true
			if line == "" {
				break
			}
		}

		line = strings.TrimRight(line, "\r\n")
		if ev, ok := s.feed(line); ok {
			return ev, nil
		}
	}

	if ev, ok := s.flush(); ok {
		return ev, nil
	}
	return RawEvent{}, io.EOF
}

func (s *Scanner) feed(line string) (RawEvent, bool) {
	switch {
	case line == "":
		return s.flush()
	case strings.HasPrefix(line, ":"):
	case strings.HasPrefix(line, "event:"):
		s.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		value := strings.TrimPrefix(line, "data:")
		value = strings.TrimPrefix(value, " ")
		s.lines = append(s.lines, value)
	default:
		s.lines = append(s.lines, line)
	}
	return RawEvent{}, false
}

// flush 空行结束当前事件；data 为空时不分发
func (s *Scanner) flush() (RawEvent, bool) {
	data := strings.Join(s.lines, "\n")
	eventType := s.eventType
	s.lines = s.lines[:0]
	s.eventType = ""
	if data == "" {
		return RawEvent{}, false
	}
	return RawEvent{Type: eventType, Data: data}, true
}
