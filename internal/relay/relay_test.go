package relay

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type deltaRecorder struct {
	deltas []string
	err    error
}

func (r *deltaRecorder) onDelta(delta string) error {
	r.deltas = append(r.deltas, delta)
	return r.err
}

func consume(t *testing.T, stream string) (*Result, *deltaRecorder, error) {
	t.Helper()
	rec := &deltaRecorder{}
	res, err := Consume(strings.NewReader(stream), rec.onDelta, zaptest.NewLogger(t))
	return res, rec, err
}

func TestDecode(t *testing.T) {
	t.Run("JSON 中的 type 优先", func(t *testing.T) {
		ev := Decode(RawEvent{Type: "message", Data: `{"type":"usage","input_tokens":1}`})
		assert.Equal(t, KindUsage, ev.Kind)
		assert.True(t, ev.Structured)
	})

	t.Run("JSON 无 type 时使用事件行", func(t *testing.T) {
		ev := Decode(RawEvent{Type: "response", Data: `{"data":"x"}`})
		assert.Equal(t, KindResponse, ev.Kind)
		assert.True(t, ev.Structured)
	})

	t.Run("纯文本", func(t *testing.T) {
		ev := Decode(RawEvent{Type: "response", Data: "hello"})
		assert.Equal(t, KindResponse, ev.Kind)
		assert.False(t, ev.Structured)
	})

	t.Run("非法 JSON 退回纯文本", func(t *testing.T) {
		ev := Decode(RawEvent{Type: "error", Data: `{"broken`})
		assert.Equal(t, KindError, ev.Kind)
		assert.False(t, ev.Structured)
	})

	t.Run("残缺 JSON 不作为内容增量", func(t *testing.T) {
		_, ok := Decode(RawEvent{Type: "response", Data: `{"type":"response","data":"hel`}).Delta()
		assert.False(t, ok)
	})
}

func TestConsume_EmptyBlockEndsEventType(t *testing.T) {
	stream := "event: usage\n\ndata: stray\n\n" +
		"event: response\ndata: hello\n\n" +
		`data: {"type":"usage","input_tokens":1,"output_tokens":1}` + "\n\n"

	res, rec, err := consume(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, rec.deltas)
	require.NotNil(t, res.Usage)
	assert.EqualValues(t, 2, res.Usage.TotalTokens)
}

func TestConsume_UsageRoundTrip(t *testing.T) {
	stream := "event: usage\n" +
		`data: {"type":"usage","input_tokens":50,"output_tokens":120,"total_tokens":170,"response_id":"resp_abc123"}` +
		"\n\n"

	res, _, err := consume(t, stream)
	require.NoError(t, err)
	require.NotNil(t, res.Usage)
	assert.Equal(t, UsageReport{InputTokens: 50, OutputTokens: 120, TotalTokens: 170, ResponseID: "resp_abc123"}, *res.Usage)
}

func TestConsume_FullConversation(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"event: response",
		`data: {"type":"response","data":"你好"}`,
		"",
		"event: response",
		"data: ，世界",
		"",
		"event: heartbeat",
		"data: {}",
		"",
		"event: usage",
		`data: {"type":"usage","input_tokens":1,"output_tokens":1,"total_tokens":2,"response_id":"first"}`,
		"",
		"event: usage",
		`data: {"type":"usage","input_tokens":10,"output_tokens":20,"total_tokens":30,"response_id":"final"}`,
		"",
	}, "\n")

	res, rec, err := consume(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"你好", "，世界"}, rec.deltas)
	assert.Equal(t, "你好，世界", res.Content)
	require.NotNil(t, res.Usage)
	assert.Equal(t, "final", res.Usage.ResponseID)
	assert.EqualValues(t, 30, res.Usage.TotalTokens)
}

func TestConsume_MultiLineDelta(t *testing.T) {
	stream := "event: response\ndata: line one\ndata: line two\n\n"

	res, rec, err := consume(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one\nline two"}, rec.deltas)
	assert.Equal(t, "line one\nline two", res.Content)
	assert.Nil(t, res.Usage)
}

func TestConsume_MalformedDeltaSkipped(t *testing.T) {
	stream := strings.Join([]string{
		"event: response",
		`data: {"type":"response","data":42}`,
		"",
		"event: response",
		"data: \xff\xfe",
		"",
		"event: response",
		`data: {"type":"response","data":"hel`,
		"",
		"event: response",
		`data: {"type":"response","data":"ok"}`,
		"",
		"event: usage",
		`data: {"input_tokens":3,"output_tokens":4,"response_id":"r"}`,
		"",
	}, "\n")

	res, rec, err := consume(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, rec.deltas)
	assert.Equal(t, "ok", res.Content)
	require.NotNil(t, res.Usage)
	assert.EqualValues(t, 7, res.Usage.TotalTokens, "缺少 total_tokens 时按输入+输出计算")
}

func TestConsume_NestedUsage(t *testing.T) {
	stream := "event: usage\n" +
		`data: {"type":"usage","response_id":"outer","usage":{"input_tokens":5,"output_tokens":6,"total_tokens":11}}` +
		"\n\n"

	res, _, err := consume(t, stream)
	require.NoError(t, err)
	assert.Equal(t, UsageReport{InputTokens: 5, OutputTokens: 6, TotalTokens: 11, ResponseID: "outer"}, *res.Usage)
}

func TestConsume_BadUsageIsParseError(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"字段类型错误", `{"type":"usage","input_tokens":"many"}`},
		{"负数 token", `{"type":"usage","input_tokens":-1,"output_tokens":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := consume(t, "event: usage\ndata: "+tt.data+"\n\n")
			require.Error(t, err)
			assert.Equal(t, ErrorTypeParse, TypeOf(err))
		})
	}
}

func TestConsume_ErrorEvent(t *testing.T) {
	tests := []struct {
		name     string
		stream   string
		wantType ErrorType
		wantCode string
		wantMsg  string
	}{
		{
			name:     "顶层 code/message",
			stream:   "event: error\ndata: {\"type\":\"error\",\"code\":\"rate_limited\",\"message\":\"slow down\"}\n\n",
			wantType: ErrorTypeUpstream,
			wantCode: "rate_limited",
			wantMsg:  "slow down",
		},
		{
			name:     "嵌套在 error 下",
			stream:   "event: error\ndata: {\"error\":{\"code\":500,\"message\":\"boom\"}}\n\n",
			wantType: ErrorTypeUpstream,
			wantCode: "500",
			wantMsg:  "boom",
		},
		{
			name:     "error 为字符串",
			stream:   "data: {\"type\":\"error\",\"error\":\"quota exceeded\"}\n\n",
			wantType: ErrorTypeUpstream,
			wantMsg:  "quota exceeded",
		},
		{
			name:     "纯文本",
			stream:   "event: error\ndata: model overloaded\n\n",
			wantType: ErrorTypeUpstream,
			wantMsg:  "model overloaded",
		},
		{
			name:     "非法 JSON",
			stream:   "event: error\ndata: {\"code\":\n\n",
			wantType: ErrorTypeParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := consume(t, tt.stream)
			require.Error(t, err)

			var re *Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.wantType, re.Type)
			assert.Equal(t, tt.wantCode, re.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, re.Message)
			}
		})
	}
}

func TestConsume_ErrorStopsStream(t *testing.T) {
	stream := strings.Join([]string{
		"event: response",
		"data: partial",
		"",
		"event: error",
		`data: {"message":"boom"}`,
		"",
		"event: response",
		"data: never",
		"",
	}, "\n")

	_, rec, err := consume(t, stream)
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, rec.deltas)
}

func TestConsume_ClientGone(t *testing.T) {
	rec := &deltaRecorder{err: errors.New("broken pipe")}
	_, err := Consume(strings.NewReader("event: response\ndata: hi\n\n"), rec.onDelta, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCanceled, TypeOf(err))
}
