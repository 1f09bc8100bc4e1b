package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatcoin/internal/config"
	"chatcoin/internal/metrics"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient OpenAI 兼容协议的上游适配器
// 与 Client 对外行为一致：增量实时回调，结束时返回用量
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIClient 创建 OpenAI 兼容上游客户端
func NewOpenAIClient(cfg config.UpstreamConfig, logger *zap.Logger) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout()}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

// Stream 发起流式补全并实时转发内容增量
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (result *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamStreamDuration.WithLabelValues(outcomeLabel(err)).Observe(time.Since(start).Seconds())
	}()

	if req.Model == "" {
		return nil, &Error{Type: ErrorTypeInvalidParams, Message: "模型不能为空"}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, h := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, c.wrapError(ctx, err)
	}
	defer stream.Close()

	log := c.logger.With(zap.String("model", req.Model))
	result = &Result{}
	var content []byte
	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, c.wrapError(ctx, recvErr)
		}

		metrics.RelayEventsTotal.WithLabelValues("chunk").Inc()
		if resp.Usage != nil {
			result.Usage = &UsageReport{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
				TotalTokens:  int64(resp.Usage.TotalTokens),
				ResponseID:   resp.ID,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content = append(content, delta...)
		if onDelta != nil {
			if cbErr := onDelta(delta); cbErr != nil {
				log.Debug("增量回调中止", zap.Error(cbErr))
				return nil, &Error{Type: ErrorTypeCanceled, Message: "转发中止", Err: cbErr}
			}
		}
	}

	result.Content = string(content)
	return result, nil
}

// wrapError 将 SDK 错误映射为中继错误
func (c *OpenAIClient) wrapError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Type: ErrorTypeCanceled, Message: "请求已取消", Err: ctxErr}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		if apiErr.HTTPStatusCode >= 300 {
			return &Error{
				Type:       ErrorTypeStatus,
				StatusCode: apiErr.HTTPStatusCode,
				Code:       code,
				Message:    fmt.Sprintf("上游接口错误 (HTTP %d): %s", apiErr.HTTPStatusCode, apiErr.Message),
				Err:        err,
			}
		}
		return &Error{Type: ErrorTypeUpstream, Code: code, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Type:       ErrorTypeStatus,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprintf("上游接口错误 (HTTP %d)", reqErr.HTTPStatusCode),
			Err:        err,
		}
	}

	return &Error{Type: ErrorTypeNetwork, Message: "读取上游流失败", Err: err}
}
