package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatcoin/internal/audit"
	"chatcoin/internal/billing"
	"chatcoin/internal/chat"
	"chatcoin/internal/config"
	"chatcoin/internal/relay"
	"chatcoin/internal/testutil"
	"chatcoin/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============ 测试夹具 ============

type fixture struct {
	db    *gorm.DB
	store *GormStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t,
		&chat.User{}, &chat.Room{}, &chat.Message{},
		&billing.AIModel{}, &wallet.Wallet{}, &audit.CoinTransaction{}, &Incident{},
	)

	require.NoError(t, db.Create(&[]chat.User{
		{ID: "u1", Username: "alice", Status: chat.UserStatusActive},
		{ID: "u2", Username: "bob", Status: chat.UserStatusActive},
		{ID: "u3", Username: "carol", Status: chat.UserStatusActive},
	}).Error)
	require.NoError(t, db.Create(&[]chat.Room{
		{ID: "r1", UserID: "u1", Title: "工作", ConversationID: "conv-0"},
		{ID: "r2", UserID: "u2", Title: "闲聊"},
		{ID: "r3", UserID: "u3", Title: "空钱包"},
	}).Error)
	require.NoError(t, db.Create(&billing.AIModel{
		ID: "m1", Name: "chat-pro", Provider: "acme",
		InputPricePer1M: d("100"), OutputPricePer1M: d("200"), IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&billing.AIModel{
		ID: "m2", Name: "chat-legacy", Provider: "acme",
		InputPricePer1M: d("1"), OutputPricePer1M: d("1"), IsActive: true,
	}).Error)
	require.NoError(t, db.Model(&billing.AIModel{}).Where("id = ?", "m2").Update("is_active", false).Error)
	require.NoError(t, db.Create(&[]wallet.Wallet{
		{ID: "w1", UserID: "u1", PaidBalance: d("100"), PromotionBalance: decimal.Zero, Balance: d("100"), TotalPurchased: d("100"), TotalUsed: decimal.Zero},
		{ID: "w2", UserID: "u2", PaidBalance: decimal.Zero, PromotionBalance: decimal.Zero, Balance: decimal.Zero, TotalPurchased: decimal.Zero, TotalUsed: decimal.Zero},
	}).Error)

	return &fixture{db: db, store: NewGormStore(db)}
}

func (f *fixture) orchestrator(t *testing.T, upstream Upstream, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testNow }),
	}
	return NewOrchestrator(f.store, upstream, append(base, opts...)...)
}

func (f *fixture) wallet(t *testing.T, userID string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.NewRepository(f.db).FindByUser(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

// fakeUpstream 按预设内容回放增量
type fakeUpstream struct {
	deltas []string
	usage  *relay.UsageReport
	err    error
	block  bool
	got    *relay.Request
}

func (f *fakeUpstream) Stream(ctx context.Context, req *relay.Request, onDelta relay.DeltaFunc) (*relay.Result, error) {
	f.got = req
	var content strings.Builder
	for _, delta := range f.deltas {
		content.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return nil, &relay.Error{Type: relay.ErrorTypeCanceled, Message: "客户端连接已断开", Err: err}
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, &relay.Error{Type: relay.ErrorTypeCanceled, Message: "请求已取消", Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &relay.Result{Content: content.String(), Usage: f.usage}, nil
}

func drain(t *testing.T, ch <-chan ClientEvent) []ClientEvent {
	t.Helper()
	var events []ClientEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("等待事件通道关闭超时")
			return nil
		}
	}
}

func names(events []ClientEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

func lastError(t *testing.T, events []ClientEvent) ErrorPayload {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Name)
	payload, ok := last.Data.(ErrorPayload)
	require.True(t, ok)
	return payload
}

func sendReq(content string) SendRequest {
	return SendRequest{UserID: "u1", RoomID: "r1", ModelID: "m1", Content: content}
}

// ============ 完整流程 ============

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&[]chat.Message{
		{ID: "h1", RoomID: "r1", UserID: "u1", Role: chat.RoleUser, Content: "上一个问题", Status: chat.StatusCompleted, CreatedAt: testNow.Add(-2 * time.Minute)},
		{ID: "h2", RoomID: "r1", UserID: "u1", Role: chat.RoleAssistant, Content: "上一个回答", Status: chat.StatusCompleted, CreatedAt: testNow.Add(-time.Minute)},
	}).Error)

	var got relay.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			"event: response\ndata: {\"type\":\"response\",\"data\":\"Hel\"}\n\n",
			"event: response\ndata: {\"type\":\"response\",\"data\":\"lo\"}\n\n",
			"event: usage\ndata: {\"type\":\"usage\",\"input_tokens\":1000,\"output_tokens\":500,\"total_tokens\":1500,\"response_id\":\"resp_abc\"}\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)

	client := relay.NewClient(config.UpstreamConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, zaptest.NewLogger(t))
	o := f.orchestrator(t, client)

	ch, err := o.SendMessage(context.Background(), sendReq("你好"))
	require.NoError(t, err)
	events := drain(t, ch)

	require.Equal(t, []string{EventStarted, EventDelta, EventDelta, EventUsage}, names(events))
	started := events[0].Data.(StartedPayload)
	assert.Equal(t, "r1", started.RoomID)
	assert.Equal(t, "Hel", events[1].Data)
	assert.Equal(t, UsagePayload{
		ResponseID: "resp_abc",
		Content:    "Hello",
		Usage:      UsageSummary{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500},
	}, events[3].Data)

	// 上游请求
	assert.Equal(t, "你好", got.Message)
	assert.Equal(t, "chat-pro", got.Model)
	assert.Equal(t, "conv-0", got.ConversationID)
	assert.Equal(t, []relay.HistoryMessage{
		{Role: "user", Content: "上一个问题"},
		{Role: "assistant", Content: "上一个回答"},
	}, got.History)

	// 钱包
	w := f.wallet(t, "u1")
	assert.True(t, w.PaidBalance.Equal(d("99.8")), w.PaidBalance.String())
	assert.True(t, w.Balance.Equal(d("99.8")))
	assert.True(t, w.TotalUsed.Equal(d("0.2")))
	assert.EqualValues(t, 1, w.Version)
	assert.NoError(t, w.CheckInvariant())

	// 流水
	var records []audit.CoinTransaction
	require.NoError(t, f.db.Where("user_id = ?", "u1").Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, audit.TransactionTypeAIUsage, records[0].TransactionType)
	assert.True(t, records[0].Amount.Equal(d("-0.2")))
	assert.True(t, records[0].BalanceAfter.Equal(d("99.8")))
	require.NotNil(t, records[0].MessageID)
	assert.Equal(t, started.MessageID, *records[0].MessageID)

	// 消息
	userMsg, err := chat.NewRepository(f.db).FindMessage(context.Background(), started.MessageID)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusCompleted, userMsg.Status)
	assert.EqualValues(t, 1500, userMsg.TotalTokens)
	assert.True(t, userMsg.CoinCost.Equal(d("0.2")))
	assert.Equal(t, "resp_abc", userMsg.ResponseID)

	var reply chat.Message
	require.NoError(t, f.db.Where("room_id = ? AND role = ? AND id NOT IN ?", "r1", chat.RoleAssistant, []string{"h2"}).First(&reply).Error)
	assert.Equal(t, "Hello", reply.Content)
	assert.Equal(t, chat.StatusCompleted, reply.Status)

	room, err := chat.NewRepository(f.db).FindRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "resp_abc", room.ConversationID)
}

func TestOrchestrator_PromotionFirst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&wallet.Wallet{}).Where("id = ?", "w1").Updates(map[string]interface{}{
		"promotion_balance": d("0.1"),
		"balance":           d("100.1"),
	}).Error)

	up := &fakeUpstream{
		deltas: []string{"ok"},
		usage:  &relay.UsageReport{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500, ResponseID: "resp_p"},
	}
	ch, err := f.orchestrator(t, up).SendMessage(context.Background(), sendReq("hi"))
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, EventUsage, events[len(events)-1].Name)

	w := f.wallet(t, "u1")
	assert.True(t, w.PromotionBalance.IsZero())
	assert.True(t, w.PaidBalance.Equal(d("99.9")), w.PaidBalance.String())
	assert.True(t, w.Balance.Equal(d("99.9")))
}

func TestOrchestrator_ZeroUsage(t *testing.T) {
	f := newFixture(t)
	up := &fakeUpstream{usage: &relay.UsageReport{ResponseID: "resp_0"}}

	ch, err := f.orchestrator(t, up).SendMessage(context.Background(), sendReq("hi"))
	require.NoError(t, err)
	events := drain(t, ch)
	require.Equal(t, []string{EventStarted, EventUsage}, names(events))

	w := f.wallet(t, "u1")
	assert.True(t, w.Balance.Equal(d("100")))
	assert.EqualValues(t, 0, w.Version)

	var rec audit.CoinTransaction
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&rec).Error)
	assert.True(t, rec.Amount.IsZero())
	assert.True(t, rec.BalanceAfter.Equal(d("100")))
}

// ============ 中止与补偿 ============

func TestOrchestrator_StreamFailureCompensates(t *testing.T) {
	tests := []struct {
		name     string
		upstream *fakeUpstream
		wantKind ErrorKind
		wantMsg  string
	}{
		{
			name: "上游 error 事件",
			upstream: &fakeUpstream{
				deltas: []string{"部分内容"},
				err:    &relay.Error{Type: relay.ErrorTypeUpstream, Code: "quota_exceeded", Message: "额度不足"},
			},
			wantKind: KindUpstream,
			wantMsg:  "额度不足",
		},
		{
			name:     "上游 HTTP 错误",
			upstream: &fakeUpstream{err: &relay.Error{Type: relay.ErrorTypeStatus, StatusCode: 502, Message: "上游接口错误 (HTTP 502): bad gateway"}},
			wantKind: KindUpstream,
		},
		{
			name:     "usage 解析失败",
			upstream: &fakeUpstream{err: &relay.Error{Type: relay.ErrorTypeParse, Message: "usage 负载解析失败"}},
			wantKind: KindParse,
		},
		{
			name:     "流结束但没有 usage",
			upstream: &fakeUpstream{deltas: []string{"a"}},
			wantKind: KindUpstream,
			wantMsg:  "上游未返回用量信息",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ch, err := f.orchestrator(t, tt.upstream).SendMessage(context.Background(), sendReq("hi"))
			require.NoError(t, err)
			events := drain(t, ch)

			assert.Equal(t, EventStarted, events[0].Name)
			payload := lastError(t, events)
			assert.Equal(t, tt.wantKind, payload.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, payload.Message)
			}

			assert.Zero(t, f.count(t, &chat.Message{}, "room_id = ?", "r1"))
			assert.Zero(t, f.count(t, &audit.CoinTransaction{}, "user_id = ?", "u1"))
			w := f.wallet(t, "u1")
			assert.True(t, w.Balance.Equal(d("100")))
			assert.EqualValues(t, 0, w.Version)
		})
	}
}

func TestOrchestrator_ClientCancel(t *testing.T) {
	f := newFixture(t)
	up := &fakeUpstream{deltas: []string{"思考中"}, block: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.orchestrator(t, up).SendMessage(ctx, sendReq("hi"))
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, EventStarted, first.Name)
	cancel()
	drain(t, ch)

	assert.Zero(t, f.count(t, &chat.Message{}, "room_id = ?", "r1"))
	assert.True(t, f.wallet(t, "u1").Balance.Equal(d("100")))
}

// commitFailingStore 事务内操作全部执行后模拟提交失败
type commitFailingStore struct {
	*GormStore
}

func (s commitFailingStore) Settle(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return s.GormStore.Settle(ctx, func(uow UnitOfWork) error {
		if err := fn(uow); err != nil {
			return err
		}
		return errors.New("数据库连接中断")
	})
}

func TestOrchestrator_SettlementFailureReportsIncident(t *testing.T) {
	f := newFixture(t)
	incidents := NewIncidentRepository(f.db)
	up := &fakeUpstream{
		deltas: []string{"答案"},
		usage:  &relay.UsageReport{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500, ResponseID: "resp_x"},
	}
	o := NewOrchestrator(commitFailingStore{f.store}, up,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testNow }),
		WithIncidentReporter(incidents),
	)

	ch, err := o.SendMessage(context.Background(), sendReq("hi"))
	require.NoError(t, err)
	events := drain(t, ch)

	started := events[0].Data.(StartedPayload)
	assert.Equal(t, KindPersistence, lastError(t, events).Code)

	// 事务回滚，钱包与流水不变
	assert.True(t, f.wallet(t, "u1").Balance.Equal(d("100")))
	assert.Zero(t, f.count(t, &audit.CoinTransaction{}, "user_id = ?", "u1"))
	assert.Zero(t, f.count(t, &chat.Message{}, "room_id = ?", "r1"))

	items, total, err := incidents.List(context.Background(), true, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	inc := items[0]
	assert.Equal(t, started.MessageID, inc.MessageID)
	assert.Equal(t, "答案", inc.AssistantContent)
	assert.Equal(t, "resp_x", inc.ResponseID)
	assert.True(t, inc.Charge.Equal(d("0.2")))
	assert.Contains(t, inc.Error, "数据库连接中断")
	assert.True(t, inc.OccurredAt.Equal(testNow))
}

// ============ 校验 ============

func TestOrchestrator_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  SendRequest
		want ErrorKind
	}{
		{"内容为空", SendRequest{UserID: "u1", RoomID: "r1", ModelID: "m1", Content: "  "}, KindInvalidRequest},
		{"用户不存在", SendRequest{UserID: "nobody", RoomID: "r1", ModelID: "m1", Content: "hi"}, KindNotFound},
		{"聊天室不存在", SendRequest{UserID: "u1", RoomID: "missing", ModelID: "m1", Content: "hi"}, KindNotFound},
		{"他人的聊天室", SendRequest{UserID: "u1", RoomID: "r2", ModelID: "m1", Content: "hi"}, KindForbidden},
		{"模型已停用", SendRequest{UserID: "u1", RoomID: "r1", ModelID: "m2", Content: "hi"}, KindNotFound},
		{"余额为零", SendRequest{UserID: "u2", RoomID: "r2", ModelID: "m1", Content: "hi"}, KindInsufficientBalance},
		{"钱包不存在", SendRequest{UserID: "u3", RoomID: "r3", ModelID: "m1", Content: "hi"}, KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			up := &fakeUpstream{}
			ch, err := f.orchestrator(t, up).SendMessage(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, ch)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Nil(t, up.got)
			assert.Zero(t, f.count(t, &chat.Message{}, "1 = 1"))
		})
	}
}

func TestOrchestrator_SingleFlightGuard(t *testing.T) {
	f := newFixture(t)
	guard := NewMemoryGuard()
	up := &fakeUpstream{usage: &relay.UsageReport{InputTokens: 1, OutputTokens: 1, ResponseID: "resp_g"}}
	o := f.orchestrator(t, up, WithGuard(guard))
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "u1", "other-request")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = o.SendMessage(ctx, sendReq("hi"))
	assert.Equal(t, KindConflict, KindOf(err))

	require.NoError(t, guard.Release(ctx, "u1", "other-request"))
	ch, err := o.SendMessage(ctx, sendReq("hi"))
	require.NoError(t, err)
	drain(t, ch)

	// 请求结束后锁已释放
	ok, err = guard.Acquire(ctx, "u1", "next")
	require.NoError(t, err)
	assert.True(t, ok)
}
