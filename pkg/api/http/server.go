package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
)

// DefaultResultTimeout bounds how long GET .../result waits when the
// request does not say.
const DefaultResultTimeout = 30 * time.Second

// Server represents the HTTP API server
type Server struct {
	router        *gin.Engine
	server        *http.Server
	orchestrator  *orchestrator.Manager
	pool          *workers.Pool
	resultTimeout time.Duration
	logger        *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager

	// Pool is optional; without it the worker endpoints answer 503.
	Pool *workers.Pool

	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// AllowedOrigins for browser clients; empty allows any origin.
	AllowedOrigins []string

	ResultTimeout time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(requestLogger(logger))

	resultTimeout := cfg.ResultTimeout
	if resultTimeout <= 0 {
		resultTimeout = DefaultResultTimeout
	}

	s := &Server{
		router:        router,
		orchestrator:  cfg.Orchestrator,
		pool:          cfg.Pool,
		resultTimeout: resultTimeout,
		logger:        logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Task endpoints
		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/tasks/:id/status", s.handleGetStatus)
		v1.GET("/tasks/:id/result", s.handleGetResult)

		// Worker endpoints
		v1.GET("/workers", s.handleListWorkers)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleTaskStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/tasks/:id/ws", wsHandler.HandleTaskStream)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
