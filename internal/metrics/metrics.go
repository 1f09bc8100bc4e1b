package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒），流式接口包含整个流的时长
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcoin_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)
)

// 上游中继指标
var (
	// UpstreamStreamDuration 上游流式调用耗时
	UpstreamStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcoin_upstream_stream_duration_seconds",
			Help:    "上游流式调用耗时分布",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// RelayEventsTotal 解析出的上游事件数
	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_relay_events_total",
			Help: "上游 SSE 事件数",
		},
		[]string{"kind"},
	)

	// RelaySkippedDeltasTotal 被跳过的异常内容增量
	RelaySkippedDeltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcoin_relay_skipped_deltas_total",
			Help: "无法解析而被跳过的内容增量数",
		},
	)
)

// 结算指标
var (
	// SettlementTransitionsTotal 状态机流转次数
	SettlementTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_settlement_transitions_total",
			Help: "结算状态机进入各状态的次数",
		},
		[]string{"state"},
	)

	// SettlementsTotal 结算结果
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_settlements_total",
			Help: "请求最终结果（completed/aborted/rejected）",
		},
		[]string{"outcome", "reason"},
	)

	// CoinsChargedTotal 累计扣费金币
	CoinsChargedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_coins_charged_total",
			Help: "累计扣除的金币",
		},
		[]string{"model"},
	)

	// TokensTotal 累计计费 token
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_tokens_total",
			Help: "累计计费 token 数",
		},
		[]string{"model", "direction"},
	)

	// WalletOverdraftTotal 扣费后充值金币为负的次数
	WalletOverdraftTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcoin_wallet_overdraft_total",
			Help: "扣费后钱包透支次数",
		},
	)

	// SettlementPersistenceFailuresTotal 结算事务失败次数
	SettlementPersistenceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcoin_settlement_persistence_failures_total",
			Help: "结算事务提交失败次数",
		},
	)

	// SettlementIncidentsTotal 已落库的结算异常
	SettlementIncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcoin_settlement_incidents_total",
			Help: "结算异常处理结果",
		},
		[]string{"result"},
	)

	// StreamsInFlight 进行中的流式请求
	StreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcoin_streams_in_flight",
			Help: "进行中的流式请求数",
		},
	)
)
