package workers

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStallAfter is how long a worker may run one delivery before the
// pool reports it as stalled.
const DefaultStallAfter = 5 * time.Minute

// HealthMonitor periodically reports worker pool status
type HealthMonitor struct {
	pool       *Pool
	interval   time.Duration
	stallAfter time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// WorkerReport is the view of one worker at a health check
type WorkerReport struct {
	ID         string        `json:"id"`
	Status     WorkerStatus  `json:"status"`
	TaskID     string        `json:"task_id,omitempty"`
	TaskName   string        `json:"task_name,omitempty"`
	RunningFor time.Duration `json:"running_for,omitempty"`
	Handled    int           `json:"handled"`
	Stalled    bool          `json:"stalled,omitempty"`
}

// HealthStatus summarises the pool. It is unhealthy when no worker exists,
// any worker stopped, or any delivery has been running past the stall limit.
type HealthStatus struct {
	TotalWorkers   int            `json:"total_workers"`
	IdleWorkers    int            `json:"idle_workers"`
	BusyWorkers    int            `json:"busy_workers"`
	StoppedWorkers int            `json:"stopped_workers"`
	StalledWorkers int            `json:"stalled_workers"`
	Healthy        bool           `json:"healthy"`
	Workers        []WorkerReport `json:"workers"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewHealthMonitor creates a health monitor. A non-positive interval
// disables the background loop; GetStatus still works.
func NewHealthMonitor(pool *Pool, interval, stallAfter time.Duration, logger *zap.Logger) *HealthMonitor {
	if stallAfter <= 0 {
		stallAfter = DefaultStallAfter
	}
	return &HealthMonitor{
		pool:       pool,
		interval:   interval,
		stallAfter: stallAfter,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the background check loop
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.interval <= 0 {
		return
	}
	h.running = true
	go h.loop()
}

// Stop stops the background check loop
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth records pool gauges and logs stalled deliveries by task id
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Bool("healthy", status.Healthy))

	for _, w := range status.Workers {
		if w.Stalled {
			h.logger.Warn("delivery exceeds stall limit",
				zap.String("worker_id", w.ID),
				zap.String("task_id", w.TaskID),
				zap.String("task_name", w.TaskName),
				zap.Duration("running_for", w.RunningFor),
				zap.Duration("limit", h.stallAfter))
		}
	}

	if status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers {
		h.logger.Warn("all workers are busy, deliveries are queueing",
			zap.Int("total", status.TotalWorkers))
	}
}

// GetStatus builds a report from a snapshot of every worker
func (h *HealthMonitor) GetStatus() *HealthStatus {
	now := time.Now()
	status := &HealthStatus{Timestamp: now}

	for _, w := range h.pool.workers {
		if w == nil {
			continue
		}
		r := w.report(now)
		switch r.Status {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
			if r.RunningFor > h.stallAfter {
				r.Stalled = true
				status.StalledWorkers++
			}
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
		status.Workers = append(status.Workers, r)
	}
	sort.Slice(status.Workers, func(i, j int) bool { return status.Workers[i].ID < status.Workers[j].ID })

	status.TotalWorkers = len(status.Workers)
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0 && status.StalledWorkers == 0
	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
