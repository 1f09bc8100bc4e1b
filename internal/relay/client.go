package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"chatcoin/internal/config"
	"chatcoin/internal/metrics"

	"go.uber.org/zap"
)

// HistoryMessage 转发给上游的历史消息
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 上游流式请求体
type Request struct {
	Message        string           `json:"message"`
	Model          string           `json:"model"`
	Files          []string         `json:"files,omitempty"`
	History        []HistoryMessage `json:"history,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
}

// Client 上游 AI 流式接口客户端，不做自动重试
type Client struct {
	baseURL      string
	streamPath   string
	apiKey       string
	maxErrorBody int64
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient 创建上游客户端
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	streamPath := cfg.StreamPath
	if streamPath == "" {
		streamPath = "/v1/chat/stream"
	}
	maxErrorBody := cfg.MaxErrorBodySize
	if maxErrorBody <= 0 {
		maxErrorBody = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		streamPath:   streamPath,
		apiKey:       cfg.APIKey,
		maxErrorBody: maxErrorBody,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		logger:       logger,
	}
}

// Stream 发起流式请求并实时转发内容增量
func (c *Client) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (result *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamStreamDuration.WithLabelValues(outcomeLabel(err)).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Type: ErrorTypeInvalidParams, Message: "序列化请求失败", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.streamPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Type: ErrorTypeInvalidParams, Message: "创建请求失败", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, "请求上游失败", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, c.maxErrorBody))
		return nil, statusError(httpResp.StatusCode, respBody)
	}

	result, err = Consume(httpResp.Body, onDelta, c.logger.With(zap.String("model", req.Model)))
	if err != nil {
		if TypeOf(err) == ErrorTypeNetwork && ctx.Err() != nil {
			return nil, &Error{Type: ErrorTypeCanceled, Message: "请求已取消", Err: ctx.Err()}
		}
		return nil, err
	}
	return result, nil
}

// transportError 区分上下文取消与网络故障
func (c *Client) transportError(ctx context.Context, msg string, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Type: ErrorTypeCanceled, Message: "请求已取消", Err: ctxErr}
	}
	return &Error{Type: ErrorTypeNetwork, Message: msg, Err: err}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if t := TypeOf(err); t != "" {
		return string(t)
	}
	return "unknown"
}
