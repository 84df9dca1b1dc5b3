package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/ports"
)

// Pool manages a pool of worker goroutines consuming deliveries
type Pool struct {
	size     int
	queues   []string
	broker   ports.Broker
	executor *Executor
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	workers []*worker
	ctx     context.Context
	cancel  context.CancelFunc

	// inflight tracks running handlers so shutdown can drain them
	inflightMu sync.Mutex
	inflight   sync.WaitGroup
	stopping   bool
}

// worker represents a single consumer
type worker struct {
	id      string
	pool    *Pool
	mu      sync.RWMutex
	status  WorkerStatus
	handled int

	// delivery in progress
	taskID   string
	taskName string
	since    time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	queues []string,
	broker ports.Broker,
	executor *Executor,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if len(queues) == 0 {
		queues = []string{executor.cfg.DefaultQueue}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	pool := &Pool{
		size:     size,
		queues:   queues,
		broker:   broker,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, 0, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool",
		zap.Int("size", p.size),
		zap.Strings("queues", p.queues))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
		}
		p.workers[i] = w

		for _, q := range p.queues {
			if err := p.broker.Subscribe(p.ctx, q, w.id, w.handle); err != nil {
				p.cancel()
				return fmt.Errorf("failed to subscribe %s to %s: %w", w.id, q, err)
			}
		}
		p.logger.Debug("worker subscribed", zap.String("worker_id", w.id))
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown stops consuming and waits for in-flight handlers
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	// cancel first so a refused delivery is seen as a stopping consumer
	// and handed back to the broker
	p.cancel()

	p.inflightMu.Lock()
	p.stopping = true
	p.inflightMu.Unlock()

	// consumption runs in broker goroutines bound to p.ctx, so the workers
	// are stopped as soon as it is cancelled
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.Lock()
		w.status = WorkerStatusStopped
		w.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// WithStallAfter sets how long one delivery may run before health checks
// flag its worker. Call before Start.
func (p *Pool) WithStallAfter(d time.Duration) *Pool {
	if d > 0 {
		p.health.stallAfter = d
	}
	return p
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// report snapshots the worker for the health monitor
func (w *worker) report(now time.Time) WorkerReport {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r := WorkerReport{ID: w.id, Status: w.status, Handled: w.handled}
	if w.status == WorkerStatusBusy {
		r.TaskID = w.taskID
		r.TaskName = w.taskName
		r.RunningFor = now.Sub(w.since)
	}
	return r
}

// handle runs one delivery through the executor
func (w *worker) handle(ctx context.Context, d *ports.Delivery) error {
	p := w.pool
	p.inflightMu.Lock()
	if p.stopping {
		p.inflightMu.Unlock()
		return fmt.Errorf("worker pool is stopping")
	}
	p.inflight.Add(1)
	p.inflightMu.Unlock()
	defer p.inflight.Done()

	if err := waitDue(ctx, d); err != nil {
		p.logger.Debug("returning scheduled delivery unacknowledged",
			zap.String("worker_id", w.id),
			zap.String("task_id", d.ID),
			zap.Time("not_before", d.NotBefore))
		return err
	}

	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.taskID = d.ID
	w.taskName = ""
	if sig, ok := d.Node.(*canvas.Signature); ok {
		w.taskName = sig.TaskName
	}
	w.since = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.status != WorkerStatusStopped {
			w.status = WorkerStatusIdle
		}
		w.taskID, w.taskName = "", ""
		w.handled++
		w.mu.Unlock()
	}()

	p.logger.Debug("handling delivery",
		zap.String("worker_id", w.id),
		zap.String("task_id", d.ID),
		zap.String("kind", string(d.Node.Kind())))

	if err := p.executor.Handle(context.WithoutCancel(ctx), d); err != nil {
		p.logger.Error("delivery failed",
			zap.String("worker_id", w.id),
			zap.String("task_id", d.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// waitDue holds a scheduled delivery until its NotBefore time. The worker
// stays idle meanwhile; an error means the pool stopped first.
func waitDue(ctx context.Context, d *ports.Delivery) error {
	wait := d.Due(time.Now())
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("worker pool stopped before %s was due: %w", d.ID, ctx.Err())
	case <-t.C:
		return nil
	}
}
