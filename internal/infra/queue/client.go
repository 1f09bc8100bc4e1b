package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatcoin/internal/config"
	"chatcoin/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端
type Client interface {
	ReportSettlementIncident(ctx context.Context, payload tasks.SettlementIncidentPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

// ReportSettlementIncident 投递结算异常，重试多次直到落库
func (c *asynqClient) ReportSettlementIncident(ctx context.Context, payload tasks.SettlementIncidentPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeSettlementIncident, data)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
		asynq.Queue(tasks.QueueCritical),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
