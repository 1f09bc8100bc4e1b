package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"chatcoin/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// IncidentRecorder 结算异常落库，便于注入 mock
type IncidentRecorder interface {
	Record(ctx context.Context, payload tasks.SettlementIncidentPayload) error
}

type IncidentHandler struct {
	recorder IncidentRecorder
	logger   *zap.Logger
}

func NewIncidentHandler(recorder IncidentRecorder, logger *zap.Logger) *IncidentHandler {
	return &IncidentHandler{
		recorder: recorder,
		logger:   logger,
	}
}

func (h *IncidentHandler) HandleSettlementIncident(ctx context.Context, t *asynq.Task) error {
	var p tasks.SettlementIncidentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// 负载损坏时重试没有意义
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.MessageID == "" || p.UserID == "" {
		return fmt.Errorf("incident payload missing ids: %w", asynq.SkipRetry)
	}

	fields := []zap.Field{
		zap.String("user_id", p.UserID),
		zap.String("message_id", p.MessageID),
		zap.String("charge", p.Charge),
	}

	if err := h.recorder.Record(ctx, p); err != nil {
		h.logger.Error("结算异常落库失败", append(fields, zap.Error(err))...)
		return err
	}

	h.logger.Warn("结算异常已记录，等待人工补账", fields...)
	return nil
}
