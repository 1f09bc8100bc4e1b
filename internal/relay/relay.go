package relay

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"chatcoin/internal/metrics"

	"go.uber.org/zap"
)

// DeltaFunc 接收实时内容增量，返回错误表示客户端已不可写
type DeltaFunc func(delta string) error

// Result 一次流式调用的结果
// Usage 为空表示流正常结束但没有收到 usage 事件
type Result struct {
	Content string
	Usage   *UsageReport
}

// Consume 读取 SSE 流直到结束：转发 response 增量、记录最后一次 usage、遇到 error 事件立即终止
func Consume(body io.Reader, onDelta DeltaFunc, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		scanner    = NewScanner(body)
		transcript strings.Builder
		usage      *UsageReport
	)

	for {
		raw, err := scanner.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &Error{Type: ErrorTypeNetwork, Message: "读取上游流失败", Err: err}
		}

		ev := Decode(raw)
		metrics.RelayEventsTotal.WithLabelValues(eventLabel(ev.Kind)).Inc()

		switch ev.Kind {
		case KindResponse:
			delta, ok := ev.Delta()
			if !ok || !utf8.ValidString(delta) {
				metrics.RelaySkippedDeltasTotal.Inc()
				logger.Warn("跳过无法解析的内容增量", zap.Int("bytes", len(ev.Payload)))
				continue
			}
			if delta == "" {
				continue
			}
			transcript.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return nil, &Error{Type: ErrorTypeCanceled, Message: "客户端连接已断开", Err: err}
				}
			}

		case KindUsage:
			report, err := ev.Usage()
			if err != nil {
				return nil, err
			}
			if usage != nil {
				logger.Debug("收到重复的 usage 事件，以最后一次为准",
					zap.String("previous_response_id", usage.ResponseID),
					zap.String("response_id", report.ResponseID),
				)
			}
			usage = report

		case KindError:
			upstreamErr := ev.UpstreamError()
			logger.Warn("上游返回错误事件",
				zap.String("type", string(upstreamErr.Type)),
				zap.String("code", upstreamErr.Code),
				zap.String("message", upstreamErr.Message),
			)
			return nil, upstreamErr

		default:
			logger.Debug("忽略未知类型的上游事件", zap.String("kind", ev.Kind))
		}
	}

	return &Result{Content: transcript.String(), Usage: usage}, nil
}

func eventLabel(kind string) string {
	switch kind {
	case KindResponse, KindUsage, KindError:
		return kind
	}
	return "other"
}
