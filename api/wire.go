package api

import (
	billingHandlers "chatcoin/api/handlers/billing"
	chatHandlers "chatcoin/api/handlers/chat"
	incidentHandlers "chatcoin/api/handlers/incidents"
	walletHandlers "chatcoin/api/handlers/wallet"

	"chatcoin/internal/audit"
	"chatcoin/internal/auth"
	"chatcoin/internal/billing"
	"chatcoin/internal/chat"
	"chatcoin/internal/config"
	"chatcoin/internal/infra"
	"chatcoin/internal/infra/queue"
	"chatcoin/internal/logger"
	middlewarepkg "chatcoin/internal/middleware"
	"chatcoin/internal/relay"
	"chatcoin/internal/settlement"
	"chatcoin/internal/wallet"
	"chatcoin/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB     *gorm.DB
	Config *config.Config
	Logger *zap.Logger

	// Redis 不可用时为 nil，相关能力退回进程内实现
	RedisClient redis.UniversalClient
	QueueClient queue.Client

	// 认证
	JWTService *auth.JWTService

	// 业务服务
	BillingService *billing.Service
	WalletService  *wallet.Service
	ChatRepo       *chat.Repository
	AuditRepo      *audit.Repository
	Exporter       *audit.Exporter
	IncidentRepo   *settlement.IncidentRepository

	// 结算
	RelayClient  settlement.Upstream
	Orchestrator *settlement.Orchestrator

	// 限流
	RateLimiter *middlewarepkg.RateLimiter

	// Worker，Redis 不可用或未启用时为 nil
	WorkerServer *worker.Server
}

// Handlers HTTP 处理器集合
type Handlers struct {
	Chat      *chatHandlers.Handler
	Wallet    *walletHandlers.Handler
	Billing   *billingHandlers.Handler
	Incidents *incidentHandlers.Handler
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&chat.User{},
		&chat.Room{},
		&chat.Message{},
		&billing.AIModel{},
		&wallet.Wallet{},
		&audit.CoinTransaction{},
		&settlement.Incident{},
	}
}

// InitContainer 初始化应用容器
func InitContainer(db *gorm.DB, cfg *config.Config) (*AppContainer, error) {
	container := &AppContainer{
		DB:     db,
		Config: cfg,
		Logger: logger.Get(),
	}

	// 初始化 Redis（可选）
	container.initRedis(cfg)

	// 初始化认证服务
	container.JWTService = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, container.RedisClient)

	// 初始化核心服务
	container.initCoreServices(db)

	// 初始化结算编排
	container.initSettlement(db, cfg)

	// 初始化 Worker
	container.initWorker(cfg)

	if cfg.RateLimit.Enabled {
		container.RateLimiter = middlewarepkg.NewRateLimiter(cfg.RateLimit)
	}

	return container, nil
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Chat:      chatHandlers.NewHandler(c.Orchestrator, c.ChatRepo, c.Logger),
		Wallet:    walletHandlers.NewHandler(c.WalletService, c.Exporter),
		Billing:   billingHandlers.NewHandler(c.BillingService),
		Incidents: incidentHandlers.NewHandler(c.IncidentRepo),
	}
}

// Close 释放容器持有的连接
func (c *AppContainer) Close() {
	if c.RateLimiter != nil {
		c.RateLimiter.Stop()
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			c.Logger.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}
}

func (c *AppContainer) initRedis(cfg *config.Config) {
	redisCfg := cfg.Redis.Normalized()
	cfg.Redis = redisCfg

	rdb, err := infra.InitRedis(&redisCfg)
	if err != nil {
		c.Logger.Warn("Redis 不可用，进行中请求标记退回进程内实现，结算异常直接落库", zap.Error(err))
		return
	}
	c.RedisClient = rdb
	c.QueueClient = queue.NewClient(redisCfg)
}

func (c *AppContainer) initCoreServices(db *gorm.DB) {
	c.BillingService = billing.NewService(db)
	c.WalletService = wallet.NewService(db, c.Logger)
	c.ChatRepo = chat.NewRepository(db)
	c.AuditRepo = audit.NewRepository(db)
	c.Exporter = audit.NewExporter(c.AuditRepo)
	c.IncidentRepo = settlement.NewIncidentRepository(db)
}

func (c *AppContainer) initSettlement(db *gorm.DB, cfg *config.Config) {
	switch cfg.Upstream.Provider {
	case "openai":
		c.RelayClient = relay.NewOpenAIClient(cfg.Upstream, c.Logger)
	default:
		c.RelayClient = relay.NewClient(cfg.Upstream, c.Logger)
	}

	opts := []settlement.Option{
		settlement.WithHistoryLimit(cfg.Settlement.HistoryLimit),
		settlement.WithLogger(c.Logger),
	}

	if cfg.Settlement.SingleFlight {
		if c.RedisClient != nil {
			opts = append(opts, settlement.WithGuard(settlement.NewRedisGuard(c.RedisClient, cfg.Settlement.InflightTTL())))
		} else {
			opts = append(opts, settlement.WithGuard(settlement.NewMemoryGuard()))
		}
	}

	// 结算异常：优先投递到队列异步落库，否则同步写表
	var reporter settlement.IncidentReporter = c.IncidentRepo
	if cfg.Settlement.ReportIncidents && c.QueueClient != nil {
		reporter = c.QueueClient
	}
	opts = append(opts, settlement.WithIncidentReporter(reporter))

	c.Orchestrator = settlement.NewOrchestrator(settlement.NewGormStore(db), c.RelayClient, opts...)
}

func (c *AppContainer) initWorker(cfg *config.Config) {
	if !cfg.Worker.Enabled || c.RedisClient == nil {
		return
	}
	c.WorkerServer = worker.NewServer(cfg.Redis, cfg.Worker, c.IncidentRepo, c.Logger)
}
