package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/icarrero/agentpool/internal/application/balancer"
	"github.com/icarrero/agentpool/internal/application/dispatch"
	"github.com/icarrero/agentpool/internal/application/orchestrator"
	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/internal/application/stats"
	"github.com/icarrero/agentpool/internal/config"
	"github.com/icarrero/agentpool/pkg/adapters/capability"
	memoryevents "github.com/icarrero/agentpool/pkg/adapters/events/memory"
	redisevents "github.com/icarrero/agentpool/pkg/adapters/events/redis"
	"github.com/icarrero/agentpool/pkg/adapters/metrics/prometheus"
	memorylimit "github.com/icarrero/agentpool/pkg/adapters/ratelimit/memory"
	redislimit "github.com/icarrero/agentpool/pkg/adapters/ratelimit/redis"
	memorystorage "github.com/icarrero/agentpool/pkg/adapters/storage/memory"
	redisstorage "github.com/icarrero/agentpool/pkg/adapters/storage/redis"
	"github.com/icarrero/agentpool/pkg/api/grpc"
	"github.com/icarrero/agentpool/pkg/api/http"
	"github.com/icarrero/agentpool/pkg/api/websocket"
	"github.com/icarrero/agentpool/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting agentpool orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("backend", cfg.Backend))

	// Initialize backend adapters
	var (
		eventBus    ports.EventBus
		resultStore ports.ResultStore
		rateLimiter ports.RateLimiter
		redisClient *goredis.Client
	)

	ctx := context.Background()

	switch cfg.Backend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		bus, err := redisevents.NewStreamsEventBus(
			redisClient,
			"agentpool-workers",
			fmt.Sprintf("agentpool-%d", os.Getpid()),
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus
		resultStore = redisstorage.NewResultStore(redisClient, 24*time.Hour, logger)
		rateLimiter = redislimit.NewLimiter(redisClient, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	case "memory":
		eventBus = memoryevents.NewEventBus()
		resultStore = memorystorage.NewResultStore()
		rateLimiter = memorylimit.NewLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize the worker capability factory
	factory, err := capability.NewFactory(&capability.Config{
		Provider:     cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		HistoryLimit: cfg.LLM.HistoryLimit,
		Store:        resultStore,
		Metrics:      metricsCollector,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create capability factory", zap.Error(err))
	}

	// Initialize application components
	strategy, err := balancer.ParseStrategy(cfg.Pool.Strategy)
	if err != nil {
		logger.Fatal("invalid pool strategy", zap.Error(err))
	}
	bal := balancer.New(strategy, logger)

	poolMgr := pool.NewManager(
		pool.Config{
			MinInstances:           cfg.Pool.MinInstances,
			MaxInstances:           cfg.Pool.MaxInstances,
			MaxMessagesPerInstance: cfg.Pool.MaxMessagesPerInstance,
			MaxInstanceAge:         cfg.Pool.MaxInstanceAge,
			StaleTimeout:           cfg.Pool.StaleTimeout,
			HealthCheckInterval:    cfg.Pool.HealthCheckInterval,
			AcquireTimeout:         cfg.Pool.AcquireTimeout,
		},
		factory,
		bal,
		eventBus,
		metricsCollector,
		logger,
	)

	monitor := pool.NewHealthMonitor(poolMgr, cfg.Pool.HealthCheckInterval, eventBus, metricsCollector, logger)

	dispatcher := dispatch.NewDispatcher(
		dispatch.Config{
			Concurrency: cfg.Dispatch.Concurrency,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			ExecTimeout: cfg.Dispatch.ExecTimeout,
		},
		poolMgr,
		bal,
		rateLimiter,
		resultStore,
		eventBus,
		metricsCollector,
		logger,
	)

	aggregator := stats.NewAggregator(poolMgr, dispatcher)
	monitor.SetStatsSource(aggregator)
	validator := orchestrator.NewValidator()

	orchestratorMgr := orchestrator.NewManager(poolMgr, dispatcher, monitor, aggregator, validator, logger)

	snapshot, err := orchestratorMgr.Initialize(ctx)
	if err != nil {
		logger.Fatal("failed to initialize orchestrator", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("agentpool orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("pool_size", snapshot.PoolSize),
		zap.String("strategy", cfg.Pool.Strategy))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("agentpool orchestrator shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
