package queue

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"chatcoin/internal/config"
	"chatcoin/internal/worker/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ReportSettlementIncident(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, ok := strings.Cut(mr.Addr(), ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := NewClient(config.RedisConfig{Host: host, Port: port})
	t.Cleanup(func() { _ = client.Close() })

	err = client.ReportSettlementIncident(context.Background(), tasks.SettlementIncidentPayload{
		UserID:     "u1",
		MessageID:  "msg-1",
		Charge:     "0.2000000000",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	pending, err := mr.List("asynq:{" + tasks.QueueCritical + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
