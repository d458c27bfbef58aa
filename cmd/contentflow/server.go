package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/agent"
	"github.com/contentflow/contentflow/api/handlers"
	"github.com/contentflow/contentflow/config"
	"github.com/contentflow/contentflow/internal/budget"
	"github.com/contentflow/contentflow/internal/cache"
	"github.com/contentflow/contentflow/internal/database"
	"github.com/contentflow/contentflow/internal/metrics"
	"github.com/contentflow/contentflow/internal/queue"
	"github.com/contentflow/contentflow/internal/quota"
	"github.com/contentflow/contentflow/internal/server"
	"github.com/contentflow/contentflow/internal/storage"
	"github.com/contentflow/contentflow/internal/store"
	"github.com/contentflow/contentflow/internal/telemetry"
	"github.com/contentflow/contentflow/llm/retry"
	"github.com/contentflow/contentflow/providers/gemini"
	"github.com/contentflow/contentflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并运行整个内容流水线服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 基础设施
	redisClient *redis.Client
	projectDB   *store.Store
	blobs       *storage.BlobStore
	cache       *cache.Manager
	bus         *queue.Bus
	pool        *database.PoolManager
	budgetCtl   *budget.Controller
	quotaMgr    *quota.Manager
	collector   *metrics.Collector
	otel        *telemetry.Providers

	// 编排
	pipeline *workflow.Pipeline
	events   *workflow.EventPipeline

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台 goroutine 生命周期
	bgCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化全部依赖并启动 HTTP 与 Metrics 服务器
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.collector = metrics.NewCollector("contentflow", s.logger)

	if err := s.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	if err := s.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}
	if err := s.initLedger(); err != nil {
		return fmt.Errorf("failed to init ledger: %w", err)
	}
	if err := s.initPipeline(bgCtx); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 连接 MongoDB：项目文档库与 GridFS 媒资库共用一个客户端
func (s *Server) initStorage(ctx context.Context) error {
	st, err := store.New(ctx, store.Config{
		URI:            s.cfg.Mongo.URI,
		Database:       s.cfg.Mongo.Database,
		Collection:     s.cfg.Mongo.Collection,
		ConnectTimeout: s.cfg.Mongo.ConnectTimeout,
	}, s.logger)
	if err != nil {
		return err
	}
	s.projectDB = st
	s.blobs = storage.New(st.Database(), s.cfg.Mongo.MediaBucket, s.logger)
	return nil
}

// initRedis 连接 Redis：缓存与事件总线共用一个客户端
func (s *Server) initRedis(ctx context.Context) error {
	s.redisClient = redis.NewClient(&redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	})
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	cm, err := cache.NewManager(s.redisClient, cache.Config{
		L1TTL:        s.cfg.Cache.L1TTL,
		L1MaxEntries: s.cfg.Cache.L1MaxEntries,
		L2TTL:        s.cfg.Cache.L2TTL,
		KeyPrefix:    s.cfg.Cache.KeyPrefix,
	}, s.logger)
	if err != nil {
		return err
	}
	s.cache = cm

	bus, err := queue.NewBus(s.redisClient, queue.Config{
		StreamPrefix:  s.cfg.Queue.StreamPrefix,
		ConsumerGroup: s.cfg.Queue.ConsumerGroup,
		MaxDeliveries: s.cfg.Queue.MaxDeliveries,
		BatchSize:     s.cfg.Queue.BatchSize,
		BlockTimeout:  s.cfg.Queue.BlockTimeout,
		ClaimIdle:     s.cfg.Queue.ClaimIdle,
	}, s.logger)
	if err != nil {
		return err
	}
	s.bus = bus
	return nil
}

// initLedger 打开账本数据库，迁移 schema 并创建预算控制器
func (s *Server) initLedger() error {
	db, err := database.Open(s.cfg.Ledger.Driver, s.cfg.Ledger.DSN())
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := database.Migrate(sqlDB, s.cfg.Ledger.Driver, s.logger); err != nil {
		return err
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns:    s.cfg.Ledger.MaxOpenConns,
		MaxIdleConns:    s.cfg.Ledger.MaxIdleConns,
		ConnMaxLifetime: s.cfg.Ledger.ConnMaxLifetime,
	}, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	ledger := budget.NewLedger(pool, s.logger)
	s.budgetCtl = budget.NewController(ledger, budget.NewCostCalculator(), budget.Config{
		DailyLimit:      s.cfg.Budget.DailyLimit,
		ProjectLimit:    s.cfg.Budget.ProjectLimit,
		AlertThresholds: parseThresholds(s.cfg.Budget.AlertThresholds, s.logger),
		Enforce:         s.cfg.Budget.Enforce,
	}, s.logger)
	return nil
}

// initPipeline 组装 agents、同步流水线与事件流水线
func (s *Server) initPipeline(ctx context.Context) error {
	s.quotaMgr = quota.NewManager(quota.Config{
		Capacity:   s.cfg.Quota.Capacity,
		RefillRate: s.cfg.Quota.RefillRate,
	}, s.logger)

	provider := gemini.NewProvider(gemini.Config{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Model:   s.cfg.LLM.DefaultModel,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)

	policy := retry.DefaultRetryPolicy()
	if s.cfg.LLM.MaxRetries > 0 {
		policy.MaxRetries = s.cfg.LLM.MaxRetries
	}
	retryer := retry.NewBackoffRetryer(policy, s.logger)

	prompts, err := agent.LoadPrompts(s.cfg.Agents.PromptsPath)
	if err != nil {
		return err
	}

	// 分词器初始化失败时跳过调用前成本预估，事后计费不受影响
	var estimator agent.TokenEstimator
	if est, err := budget.NewEstimator(); err != nil {
		s.logger.Warn("token estimator unavailable, pre-call cost checks disabled", zap.Error(err))
	} else {
		estimator = est
	}

	deps := agent.Deps{
		Provider:  provider,
		Retryer:   retryer,
		Budget:    s.budgetCtl,
		Quota:     s.quotaMgr,
		Cache:     s.cache,
		Metrics:   s.collector,
		Estimator: estimator,
		Prompts:   prompts,
		Logger:    s.logger,
	}
	opts := agent.Options{
		Model:       s.cfg.LLM.DefaultModel,
		Temperature: s.cfg.Agents.Temperature,
		MaxTokens:   s.cfg.Agents.MaxTokens,
	}

	agents := workflow.Agents{
		Research:  agent.NewResearchAgent(deps, opts),
		Content:   agent.NewContentAgent(deps, opts),
		Editor:    agent.NewEditorAgent(deps, opts),
		SEO:       agent.NewSEOAgent(deps, opts),
		QA:        agent.NewQAAgent(),
		Media:     agent.NewMediaAgent(deps, opts, s.blobs),
		Publisher: agent.NewPublisherAgent(s.cfg.Publisher, s.logger),
	}

	s.pipeline = workflow.NewPipeline(agents, s.projectDB, s.budgetCtl, s.collector, s.logger)

	consumer := "worker-" + hostname()
	s.events = workflow.NewEventPipeline(s.pipeline, s.bus, consumer, s.logger)
	return s.events.Start(ctx)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(bgCtx context.Context) error {
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("mongodb", s.projectDB.Ping))
	healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.bus.Ping))
	healthHandler.RegisterCheck(handlers.NewPingCheck("ledger", s.pool.Ping))
	healthHandler.RegisterCheck(handlers.NewPingCheck("budget", func(ctx context.Context) error {
		_, err := s.budgetCtl.Snapshot(ctx)
		return err
	}))

	generateHandler := handlers.NewGenerateHandler(s.projectDB, s.pipeline, s.events, s.budgetCtl, s.logger)
	projectsHandler := handlers.NewProjectsHandler(s.projectDB, s.logger)
	budgetHandler := handlers.NewBudgetHandler(s.budgetCtl, s.logger)
	queueHandler := handlers.NewQueueHandler(s.bus, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.projectDB, 0, s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /generate", generateHandler.HandleGenerate)
	mux.HandleFunc("POST /generate/sync", generateHandler.HandleGenerateSync)
	mux.HandleFunc("GET /projects", projectsHandler.HandleList)
	mux.HandleFunc("GET /projects/{id}", projectsHandler.HandleGet)
	mux.HandleFunc("GET /projects/{id}/events", eventsHandler.HandleEvents)
	mux.HandleFunc("GET /budget", budgetHandler.HandleBudget)
	mux.HandleFunc("GET /queue/dead-letters", queueHandler.HandleDeadLetters)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(bgCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		MaxConns:        s.cfg.Server.MaxConns,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。先停入口，再停消费，最后断开存储。
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	// 取消事件消费与限流清理 goroutine
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Error("event bus close error", zap.Error(err))
		}
	}
	if s.quotaMgr != nil {
		s.quotaMgr.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("ledger close error", zap.Error(err))
		}
	}
	if s.projectDB != nil {
		if err := s.projectDB.Close(ctx); err != nil {
			s.logger.Error("project store close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// parseThresholds 将配置里的字符串阈值转为数值，非法项跳过
func parseThresholds(raw []string, logger *zap.Logger) []float64 {
	out := make([]float64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			logger.Warn("ignoring invalid alert threshold", zap.String("value", s))
			continue
		}
		out = append(out, v)
	}
	return out
}

// hostname 返回消费者名用的主机名
func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "local"
}
