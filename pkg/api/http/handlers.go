package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

// TaskSubmitRequest represents a graph submission request
type TaskSubmitRequest struct {
	Graph json.RawMessage `json:"graph" binding:"required"`
}

// TaskSubmitResponse represents a graph submission response
type TaskSubmitResponse struct {
	TaskID      string `json:"task_id"`
	State       string `json:"state"`
	SubmittedAt string `json:"submitted_at"`
}

// StatusResponse is the lightweight view of a record
type StatusResponse struct {
	TaskID    string `json:"task_id"`
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	Retries   int    `json:"retries"`
	ForwardID string `json:"forward_id,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// ResultResponse carries the outcome of a finished graph
type ResultResponse struct {
	TaskID string            `json:"task_id"`
	State  string            `json:"state"`
	Result interface{}       `json:"result,omitempty"`
	Error  *domain.TaskError `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// WorkerResponse represents one worker of the pool
type WorkerResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	status := http.StatusOK
	overall := "healthy"

	if s.pool != nil {
		health := s.pool.Health().GetStatus()
		checks["workers"] = health
		if !health.Healthy {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleSubmitTask handles graph submission
func (s *Server) handleSubmitTask(c *gin.Context) {
	var req TaskSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	node, err := canvas.Unmarshal(req.Graph)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_GRAPH", err.Error())
		return
	}

	h, err := s.orchestrator.Submit(c.Request.Context(), node)
	if err != nil {
		s.logger.Error("failed to submit graph", zap.Error(err))
		code := "SUBMISSION_FAILED"
		if errors.Is(err, domain.ErrUnknownTask) {
			code = "UNKNOWN_TASK"
		}
		abortWithError(c, http.StatusUnprocessableEntity, code, err.Error())
		return
	}

	c.JSON(http.StatusCreated, TaskSubmitResponse{
		TaskID:      h.ID,
		State:       string(domain.StatePending),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// lookup reads a record or writes the error response
func (s *Server) lookup(c *gin.Context) (*domain.Record, bool) {
	rec, err := s.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Task not found")
			return nil, false
		}
		s.logger.Error("failed to read record", zap.String("task_id", c.Param("id")), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return nil, false
	}
	return rec, true
}

// handleGetTask returns the full record
func (s *Server) handleGetTask(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleGetStatus handles getting task status
func (s *Server) handleGetStatus(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		TaskID:    c.Param("id"),
		State:     string(rec.State),
		Ready:     rec.Ready(),
		Retries:   rec.Retries,
		ForwardID: rec.ForwardID,
		UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// handleGetResult waits for the graph to finish. The wait is bounded by
// the timeout query parameter (a Go duration) or the server default.
func (s *Server) handleGetResult(c *gin.Context) {
	id := c.Param("id")

	timeout := s.resultTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_TIMEOUT", "timeout must be a non-negative duration such as 5s")
			return
		}
		timeout = d
	}

	if _, ok := s.lookup(c); !ok {
		return
	}

	rec, err := s.orchestrator.Handle(id).Get(c.Request.Context(), timeout)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			abortWithError(c, http.StatusAccepted, "NOT_COMPLETED", "Task not yet completed")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "WAIT_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, ResultResponse{
		TaskID: id,
		State:  string(rec.State),
		Result: rec.Result,
		Error:  rec.Error,
	})
}

// handleListWorkers handles listing workers
func (s *Server) handleListWorkers(c *gin.Context) {
	if s.pool == nil {
		abortWithError(c, http.StatusServiceUnavailable, "POOL_NOT_AVAILABLE", "Worker pool is not running in this process")
		return
	}

	statuses := s.pool.GetStatus()
	resp := make([]WorkerResponse, 0, len(statuses))
	for id, st := range statuses {
		resp = append(resp, WorkerResponse{ID: id, State: string(st)})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"data":   resp,
		"health": s.pool.Health().GetStatus(),
	})
}

