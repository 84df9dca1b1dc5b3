package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
	"github.com/aescanero/canvas/internal/config"
	"github.com/aescanero/canvas/internal/logging"
	"github.com/aescanero/canvas/internal/tasks"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	brokerredis "github.com/aescanero/canvas/pkg/adapters/broker/redis"
	"github.com/aescanero/canvas/pkg/adapters/llm"
	"github.com/aescanero/canvas/pkg/adapters/metrics/prometheus"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	storeredis "github.com/aescanero/canvas/pkg/adapters/storage/redis"
	storesqlite "github.com/aescanero/canvas/pkg/adapters/storage/sqlite"
	"github.com/aescanero/canvas/pkg/api/grpc"
	"github.com/aescanero/canvas/pkg/api/http"
	"github.com/aescanero/canvas/pkg/api/websocket"
	"github.com/aescanero/canvas/pkg/mathapi"
	"github.com/aescanero/canvas/pkg/ports"
	"github.com/aescanero/canvas/pkg/task"
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
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting canvas daemon",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("broker", cfg.Broker),
		zap.String("result_backend", cfg.ResultBackend))

	ctx := context.Background()

	// Initialize Redis client when a backend needs it
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
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
	}

	// Initialize adapters
	broker := newBroker(cfg, redisClient, logger)
	store, err := newResultStore(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create result store", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector(nil)

	registry, err := newRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("failed to register tasks", zap.Error(err))
	}
	logger.Info("tasks registered", zap.Strings("tasks", registry.Names()))

	// Initialize application components
	executor := workers.NewExecutor(registry, store, broker, metricsCollector, logger, workers.ExecutorConfig{
		DefaultQueue:  cfg.Workers.Queues[0],
		RetryDelay:    cfg.Workers.RetryDelay,
		MaxRetryDelay: cfg.Workers.MaxRetryDelay,
	})

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.Queues,
		broker,
		executor,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	).WithStallAfter(cfg.Workers.StallAfter)

	orchestratorMgr := orchestrator.NewManager(
		broker,
		store,
		metricsCollector,
		orchestrator.NewValidator(registry),
		logger,
		cfg.Workers.Queues[0],
		cfg.Client.PollInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Orchestrator:   orchestratorMgr,
		Pool:           workerPool,
		AllowedOrigins: cfg.AllowedOrigins,
		ResultTimeout:  cfg.Client.Timeout,
		Logger:         logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(orchestratorMgr, 0, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:     cfg.GRPCPort,
		Checker:  workerPool.Health(),
		Interval: cfg.Workers.HealthCheckInterval,
		Logger:   logger,
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

	logger.Info("canvas daemon started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("queues", cfg.Workers.Queues))

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

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := broker.Close(); err != nil {
		logger.Error("broker close error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("result store close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("canvas daemon shut down complete")
}

// newBroker selects the transport
func newBroker(cfg *config.Config, client *goredis.Client, logger *zap.Logger) ports.Broker {
	if cfg.Broker == config.BackendRedis {
		return brokerredis.NewStreamsBroker(client, cfg.Redis.ConsumerGroup, cfg.Redis.VisibilityTimeout, logger)
	}
	return brokermem.NewBroker(logger)
}

// newResultStore selects the result backend
func newResultStore(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.ResultStore, error) {
	switch cfg.ResultBackend {
	case config.BackendRedis:
		return storeredis.NewResultStore(client, cfg.Redis.ResultTTL, logger), nil
	case config.BackendSQLite:
		return storesqlite.NewResultStore(cfg.SQLite.Path, logger)
	default:
		return storemem.NewResultStore(), nil
	}
}

// newRegistry registers the built-in tasks available with this config
func newRegistry(cfg *config.Config, logger *zap.Logger) (*task.Registry, error) {
	deps := tasks.Deps{StepDelay: cfg.Workers.StepDelay}

	if cfg.MathAPI.URL != "" {
		deps.Math = mathapi.NewClient(cfg.MathAPI.URL, nil)
	} else {
		logger.Info("math API URL not set, http.* tasks disabled")
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(&llm.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		deps.LLM = client
	} else {
		logger.Info("LLM API key not set, llm.complete disabled")
	}

	registry := task.NewRegistry()
	if err := tasks.Register(registry, deps); err != nil {
		return nil, err
	}
	return registry, nil
}
