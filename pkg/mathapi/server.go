package mathapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	// DefaultLatency is the delay added to every arithmetic response.
	DefaultLatency = time.Second

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// operation computes a result from the bound query parameters.
type operation struct {
	params []string
	apply  func(v []float64) float64
}

var operations = map[string]operation{
	"add":      {params: []string{"x", "y"}, apply: func(v []float64) float64 { return v[0] + v[1] }},
	"subtract": {params: []string{"x", "y"}, apply: func(v []float64) float64 { return v[0] - v[1] }},
	"multiply": {params: []string{"x", "y"}, apply: func(v []float64) float64 { return v[0] * v[1] }},
	"divide": {params: []string{"x", "y"}, apply: func(v []float64) float64 {
		if v[1] == 0 {
			return 0
		}
		return v[0] / v[1]
	}},
	"double": {params: []string{"x"}, apply: func(v []float64) float64 { return v[0] * 2 }},
	"square": {params: []string{"x"}, apply: func(v []float64) float64 { return v[0] * v[0] }},
}

// Operations returns the names of the supported operations.
func Operations() []string {
	return []string{"add", "subtract", "multiply", "divide", "double", "square"}
}

// Arity returns how many operands op takes, 0 for unknown operations.
func Arity(op string) int {
	return len(operations[op].params)
}

type resultResponse struct {
	Result float64 `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Server serves the arithmetic operations.
type Server struct {
	router  *chi.Mux
	latency time.Duration
	logger  *zap.Logger
	addr    string
}

// NewServer creates the service. A negative latency is treated as zero.
func NewServer(addr string, latency time.Duration, logger *zap.Logger) *Server {
	if latency < 0 {
		latency = 0
	}
	s := &Server{
		router:  chi.NewRouter(),
		latency: latency,
		logger:  logger,
		addr:    addr,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	for name, op := range operations {
		s.router.Get("/"+name, s.handleOperation(op))
	}
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("math api listening", zap.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("math api stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) handleOperation(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := make([]float64, len(op.params))
		for i, name := range op.params {
			raw := r.URL.Query().Get(name)
			if raw == "" {
				s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("missing query parameter %q", name)})
				return
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("parameter %q is not a number", name)})
				return
			}
			values[i] = v
		}

		if s.latency > 0 {
			timer := time.NewTimer(s.latency)
			select {
			case <-r.Context().Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		s.writeJSON(w, http.StatusOK, resultResponse{Result: op.apply(values)})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
