package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatcoin/internal/audit"
	"chatcoin/internal/billing"
	"chatcoin/internal/chat"
	"chatcoin/internal/logger"
	"chatcoin/internal/metrics"
	"chatcoin/internal/relay"
	"chatcoin/internal/wallet"
	"chatcoin/internal/worker/tasks"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	eventBufferSize     = 16
	compensationTimeout = 10 * time.Second
	defaultHistoryLimit = 20
)

// Upstream 上游流式接口
type Upstream interface {
	Stream(ctx context.Context, req *relay.Request, onDelta relay.DeltaFunc) (*relay.Result, error)
}

// SendRequest 发送消息请求
type SendRequest struct {
	UserID  string   `json:"-"`
	RoomID  string   `json:"-"`
	ModelID string   `json:"modelId" binding:"required"`
	Content string   `json:"content" binding:"required"`
	Files   []string `json:"files"`
}

// Orchestrator 编排一次付费 AI 对话：校验、写入、流式转发、结算
type Orchestrator struct {
	store        Store
	upstream     Upstream
	guard        Guard
	reporter     IncidentReporter
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time
}

// Option 可选配置
type Option func(*Orchestrator)

// WithGuard 启用单用户并发限制
func WithGuard(g Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithIncidentReporter 结算失败时的上报通道
func WithIncidentReporter(r IncidentReporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithHistoryLimit 转发给上游的历史消息条数，0 表示不带历史
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator 创建编排器
func NewOrchestrator(store Store, upstream Upstream, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		upstream:     upstream,
		historyLimit: defaultHistoryLimit,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// session 单次请求的上下文，只在一个 goroutine 内使用
type session struct {
	req         SendRequest
	room        *chat.Room
	model       billing.PricedModel
	guardToken  string
	state       State
	userMessage *chat.Message
	logger      *zap.Logger
}

// SendMessage 同步完成校验后返回事件通道，其余阶段在后台 goroutine 中执行
// 校验失败返回 *Error 且不产生任何写入。调用方需读完通道或取消 ctx，通道在终态后关闭
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (<-chan ClientEvent, error) {
	sess := &session{
		req:    req,
		state:  StateValidating,
		logger: logger.FromContext(ctx, o.logger).With(zap.String("room_id", req.RoomID), zap.String("model_id", req.ModelID)),
	}
	metrics.SettlementTransitionsTotal.WithLabelValues(string(StateValidating)).Inc()

	if err := o.validate(ctx, sess); err != nil {
		metrics.SettlementsTotal.WithLabelValues("rejected", string(KindOf(err))).Inc()
		sess.logger.Info("请求校验未通过", zap.Error(err))
		return nil, err
	}

	events := make(chan ClientEvent, eventBufferSize)
	metrics.StreamsInFlight.Inc()
	go o.run(ctx, sess, events)
	return events, nil
}

// ============ Validating ============

func (o *Orchestrator) validate(ctx context.Context, sess *session) error {
	req := sess.req
	if strings.TrimSpace(req.Content) == "" {
		return newError(KindInvalidRequest, "消息内容不能为空", nil)
	}

	if _, err := o.store.LoadUser(ctx, req.UserID); err != nil {
		return lookupError(err, chat.ErrUserNotFound, "用户不存在")
	}

	room, err := o.store.LoadRoom(ctx, req.RoomID)
	if err != nil {
		return lookupError(err, chat.ErrRoomNotFound, "聊天室不存在")
	}
	if room.UserID != req.UserID {
		return newError(KindForbidden, "无权访问该聊天室", nil)
	}
	sess.room = room

	model, err := o.store.LoadActiveModel(ctx, req.ModelID)
	if err != nil {
		return lookupError(err, billing.ErrModelNotFound, "模型不存在或已停用")
	}
	sess.model = model.Priced()

	w, err := o.store.LoadWallet(ctx, req.UserID)
	if err != nil {
		return lookupError(err, wallet.ErrWalletNotFound, "钱包不存在")
	}
	if !w.Balance.IsPositive() {
		return newError(KindInsufficientBalance, "金币余额不足", wallet.ErrInsufficientBalance)
	}

	if o.guard != nil {
		token := uuid.New().String()
		ok, err := o.guard.Acquire(ctx, req.UserID, token)
		switch {
		case err != nil:
			// Redis 不可用时放行，结算阶段的行锁仍然生效
			sess.logger.Warn("获取用户锁失败，跳过并发限制", zap.Error(err))
		case !ok:
			return newError(KindConflict, "已有进行中的对话请求", nil)
		default:
			sess.guardToken = token
		}
	}
	return nil
}

func lookupError(err, notFound error, msg string) *Error {
	if errors.Is(err, notFound) {
		return newError(KindNotFound, msg, err)
	}
	return newError(KindPersistence, "读取数据失败", err)
}

// ============ 后台流程 ============

func (o *Orchestrator) run(ctx context.Context, sess *session, events chan<- ClientEvent) {
	defer close(events)
	defer metrics.StreamsInFlight.Dec()
	defer o.releaseGuard(ctx, sess)

	emit := func(ev ClientEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// PendingWrite
	o.enter(sess, StatePendingWrite)
	files, err := encodeFiles(sess.req.Files)
	if err != nil {
		o.abort(ctx, sess, emit, newError(KindInvalidRequest, "附件格式错误", err))
		return
	}
	msg := &chat.Message{
		RoomID:  sess.req.RoomID,
		UserID:  sess.req.UserID,
		Role:    chat.RoleUser,
		Content: sess.req.Content,
		Files:   files,
		ModelID: sess.model.ID,
		Status:  chat.StatusPending,
	}
	if err := o.store.CreatePendingMessage(ctx, msg); err != nil {
		if ctx.Err() != nil {
			o.abort(ctx, sess, emit, newError(KindCanceled, "请求已取消", err))
		} else {
			o.abort(ctx, sess, emit, newError(KindPersistence, "写入用户消息失败", err))
		}
		return
	}
	sess.userMessage = msg
	sess.logger = sess.logger.With(zap.String("message_id", msg.ID))
	emit(ClientEvent{Name: EventStarted, Data: StartedPayload{MessageID: msg.ID, RoomID: msg.RoomID}})

	// Streaming
	o.enter(sess, StateStreaming)
	result, serr := o.stream(ctx, sess, emit)
	if serr != nil {
		o.abort(ctx, sess, emit, serr)
		return
	}

	// Settling 在流完成后不再受客户端断开影响
	o.enter(sess, StateSettling)
	settleCtx := context.WithoutCancel(ctx)
	charge, err := o.settle(settleCtx, sess, result)
	if err != nil {
		metrics.SettlementPersistenceFailuresTotal.Inc()
		sess.logger.Error("结算事务失败", zap.Error(err), zap.String("charge", charge.Total.String()))
		o.reportIncident(settleCtx, sess, result, charge, err)
		o.abort(ctx, sess, emit, newError(KindPersistence, "结算失败", err))
		return
	}

	o.enter(sess, StateDone)
	metrics.SettlementsTotal.WithLabelValues("completed", "").Inc()
	metrics.CoinsChargedTotal.WithLabelValues(sess.model.Name).Add(charge.Total.InexactFloat64())
	metrics.TokensTotal.WithLabelValues(sess.model.Name, "input").Add(float64(result.Usage.InputTokens))
	metrics.TokensTotal.WithLabelValues(sess.model.Name, "output").Add(float64(result.Usage.OutputTokens))

	emit(ClientEvent{Name: EventUsage, Data: UsagePayload{
		ResponseID: result.Usage.ResponseID,
		Content:    result.Content,
		Usage: UsageSummary{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.TotalTokens,
		},
	}})
}

func (o *Orchestrator) stream(ctx context.Context, sess *session, emit func(ClientEvent) bool) (*relay.Result, *Error) {
	history, err := o.loadHistory(ctx, sess)
	if err != nil {
		return nil, newError(KindPersistence, "读取历史消息失败", err)
	}

	upstreamReq := &relay.Request{
		Message:        sess.req.Content,
		Model:          sess.model.Name,
		Files:          sess.req.Files,
		History:        history,
		ConversationID: sess.room.ConversationID,
	}

	result, err := o.upstream.Stream(ctx, upstreamReq, func(delta string) error {
		if !emit(ClientEvent{Name: EventDelta, Data: delta}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return nil, upstreamFailure(ctx, err)
	}
	if result == nil || result.Usage == nil {
		return nil, newError(KindUpstream, "上游未返回用量信息", nil)
	}
	return result, nil
}

func (o *Orchestrator) loadHistory(ctx context.Context, sess *session) ([]relay.HistoryMessage, error) {
	if o.historyLimit <= 0 {
		return nil, nil
	}
	msgs, err := o.store.RecentHistory(ctx, sess.req.RoomID, o.historyLimit)
	if err != nil {
		return nil, err
	}
	history := make([]relay.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, relay.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return history, nil
}

func upstreamFailure(ctx context.Context, err error) *Error {
	msg := "上游服务错误"
	var re *relay.Error
	if errors.As(err, &re) && re.Message != "" {
		msg = re.Message
	}

	switch {
	case ctx.Err() != nil || relay.TypeOf(err) == relay.ErrorTypeCanceled:
		return newError(KindCanceled, "请求已取消", err)
	case relay.TypeOf(err) == relay.ErrorTypeParse:
		return newError(KindParse, msg, err)
	default:
		return newError(KindUpstream, msg, err)
	}
}

// ============ Settling ============

func (o *Orchestrator) settle(ctx context.Context, sess *session, result *relay.Result) (billing.Charge, error) {
	usage := result.Usage
	charge := billing.Calculate(billing.Usage{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}, sess.model)
	now := o.now()
	msg := sess.userMessage

	err := o.store.Settle(ctx, func(uow UnitOfWork) error {
		w, err := uow.LoadWalletForUpdate(ctx, sess.req.UserID)
		if err != nil {
			return err
		}

		after := *w
		if charge.Total.IsPositive() {
			after, err = w.Deduct(charge.Total, now)
			if err != nil {
				return err
			}
			if after.Overdrawn() {
				metrics.WalletOverdraftTotal.Inc()
				sess.logger.Error("扣费后钱包透支",
					zap.String("charge", charge.Total.String()),
					zap.String("paid_balance", after.PaidBalance.String()))
			}
			if err := uow.SaveWallet(ctx, &after); err != nil {
				return err
			}
		}

		if err := uow.CreateMessage(ctx, &chat.Message{
			RoomID:     msg.RoomID,
			UserID:     msg.UserID,
			Role:       chat.RoleAssistant,
			Content:    result.Content,
			ModelID:    sess.model.ID,
			Status:     chat.StatusCompleted,
			ResponseID: usage.ResponseID,
		}); err != nil {
			return err
		}

		finalized := *msg
		finalized.Status = chat.StatusCompleted
		finalized.InputTokens = usage.InputTokens
		finalized.OutputTokens = usage.OutputTokens
		finalized.TotalTokens = usage.TotalTokens
		finalized.CoinCost = charge.Total
		finalized.ResponseID = usage.ResponseID
		if err := uow.UpdateMessage(ctx, &finalized); err != nil {
			return err
		}

		if usage.ResponseID != "" {
			if err := uow.UpdateRoomConversation(ctx, msg.RoomID, usage.ResponseID); err != nil {
				return err
			}
		}

		roomID, messageID := msg.RoomID, msg.ID
		return uow.AppendAuditRecord(ctx, &audit.CoinTransaction{
			UserID:          sess.req.UserID,
			RoomID:          &roomID,
			MessageID:       &messageID,
			TransactionType: audit.TransactionTypeAIUsage,
			Amount:          charge.Total.Neg(),
			BalanceAfter:    after.Balance,
			Description: fmt.Sprintf("%s 调用：输入 %d tokens，输出 %d tokens",
				sess.model.Name, usage.InputTokens, usage.OutputTokens),
		})
	})
	return charge, err
}

func (o *Orchestrator) reportIncident(ctx context.Context, sess *session, result *relay.Result, charge billing.Charge, cause error) {
	if o.reporter == nil {
		metrics.SettlementIncidentsTotal.WithLabelValues("unreported").Inc()
		return
	}

	usage := result.Usage
	payload := tasks.SettlementIncidentPayload{
		UserID:        sess.req.UserID,
		RoomID:        sess.req.RoomID,
		MessageID:     sess.userMessage.ID,
		ModelID:       sess.model.ID,
		UserContent:   sess.req.Content,
		AssistContent: result.Content,
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		TotalTokens:   usage.TotalTokens,
		ResponseID:    usage.ResponseID,
		Charge:        charge.Total.StringFixed(billing.PriceScale),
		Error:         cause.Error(),
		OccurredAt:    o.now().UTC(),
	}
	if err := o.reporter.ReportSettlementIncident(ctx, payload); err != nil {
		metrics.SettlementIncidentsTotal.WithLabelValues("report_failed").Inc()
		sess.logger.Error("上报结算异常失败", zap.Error(err), zap.Any("incident", payload))
		return
	}
	metrics.SettlementIncidentsTotal.WithLabelValues("reported").Inc()
}

// ============ Aborting ============

func (o *Orchestrator) abort(ctx context.Context, sess *session, emit func(ClientEvent) bool, cause *Error) {
	o.enter(sess, StateAborting)
	metrics.SettlementsTotal.WithLabelValues("aborted", string(cause.Kind)).Inc()

	if cause.Kind == KindCanceled {
		sess.logger.Info("请求已取消", zap.Error(cause))
	} else {
		sess.logger.Warn("请求中止", zap.Error(cause))
	}

	if sess.userMessage != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		if err := o.store.DeleteMessage(cctx, sess.userMessage.ID); err != nil {
			sess.logger.Error("补偿删除用户消息失败", zap.Error(err))
		}
	}

	emit(ClientEvent{Name: EventError, Data: ErrorPayload{Code: cause.Kind, Message: cause.Message}})
}

// ============ 辅助 ============

func (o *Orchestrator) enter(sess *session, to State) {
	if !CanTransition(sess.state, to) {
		sess.logger.Error("非法的结算状态流转", zap.String("from", string(sess.state)), zap.String("to", string(to)))
	}
	sess.logger.Debug("结算状态流转", zap.String("from", string(sess.state)), zap.String("to", string(to)))
	sess.state = to
	metrics.SettlementTransitionsTotal.WithLabelValues(string(to)).Inc()
}

func (o *Orchestrator) releaseGuard(ctx context.Context, sess *session) {
	if o.guard == nil || sess.guardToken == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := o.guard.Release(cctx, sess.req.UserID, sess.guardToken); err != nil {
		sess.logger.Warn("释放用户锁失败", zap.Error(err))
	}
}

func encodeFiles(files []string) ([]byte, error) {
	if len(files) == 0 {
		return nil, nil
	}
	return json.Marshal(files)
}

