package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/workers"
	"github.com/aescanero/canvas/pkg/adapters/storage"
	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
)

// maxForwardDepth bounds how many replacements the read path follows.
const maxForwardDepth = 16

// Manager submits graphs and reads their outcome
type Manager struct {
	broker    ports.Broker
	store     ports.ResultStore
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger

	// Track submitted graphs
	executions sync.Map // map[string]*executionContext

	// Configuration
	queue        string
	pollInterval time.Duration
}

// executionContext holds what the manager knows about one submission
type executionContext struct {
	id          string
	kind        canvas.Kind
	submittedAt time.Time
}

// NewManager creates a new orchestrator manager
func NewManager(
	broker ports.Broker,
	store ports.ResultStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	queue string,
	pollInterval time.Duration,
) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if validator == nil {
		validator = NewValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == "" {
		queue = ports.DefaultQueue
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Manager{
		broker:       broker,
		store:        store,
		metrics:      metrics,
		validator:    validator,
		logger:       logger,
		queue:        queue,
		pollInterval: pollInterval,
	}
}

// Submit validates a graph, creates its root record and hands it to the
// workers. Validation errors, including domain.ErrUnknownTask, are returned
// before anything is stored.
func (m *Manager) Submit(ctx context.Context, node canvas.Node) (*Handle, error) {
	if err := m.validator.Validate(node); err != nil {
		m.logger.Error("graph validation failed", zap.Error(err))
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	id := workers.NewRootID()

	if _, err := m.store.Create(ctx, id, workers.RecordOptions(node, id, "")); err != nil {
		m.logger.Error("failed to create root record",
			zap.String("task_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	if err := m.broker.Publish(ctx, m.queue, &ports.Delivery{ID: id, Node: canvas.Clone(node)}); err != nil {
		m.logger.Error("failed to publish graph",
			zap.String("task_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to publish graph: %w", err)
	}

	m.executions.Store(id, &executionContext{
		id:          id,
		kind:        node.Kind(),
		submittedAt: time.Now(),
	})

	m.metrics.RecordGraphSubmitted(string(node.Kind()))
	m.logger.Info("graph submitted",
		zap.String("task_id", id),
		zap.String("kind", string(node.Kind())))

	return &Handle{ID: id, manager: m}, nil
}

// Handle returns a handle for a previously submitted id
func (m *Manager) Handle(id string) *Handle {
	return &Handle{ID: id, manager: m}
}

// Status reads the current view of a record, following replacement
// forwards while the record itself is unfinished. A forwarded view keeps
// the identity of id and carries the state, result and error of the last
// record reached; its Version sums the versions along the way so it grows
// with every write to any of them.
func (m *Manager) Status(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cur := rec
	version := rec.Version
	for depth := 0; !cur.Ready() && cur.ForwardID != "" && depth < maxForwardDepth; depth++ {
		fwd, err := m.store.Get(ctx, cur.ForwardID)
		if err != nil {
			m.logger.Debug("forward not readable yet",
				zap.String("task_id", cur.ID),
				zap.String("forward_id", cur.ForwardID),
				zap.Error(err))
			break
		}
		cur = fwd
		version += fwd.Version
	}
	if cur == rec {
		return rec, nil
	}

	view := rec.Clone()
	view.State = cur.State
	view.Result = domain.CloneValue(cur.Result)
	view.Error = cur.Error
	view.UpdatedAt = cur.UpdatedAt
	view.Version = version
	return view, nil
}

// Watch calls fn with every new view of a record until it is terminal or
// ctx ends. Views are compared by version.
func (m *Manager) Watch(ctx context.Context, id string, interval time.Duration, fn func(*domain.Record) error) error {
	if interval <= 0 {
		interval = m.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastVersion := int64(-1)
	for {
		rec, err := m.Status(ctx, id)
		switch {
		case err != nil:
			m.logger.Warn("failed to read record while watching",
				zap.String("task_id", id),
				zap.Error(err))
		case rec.Version != lastVersion:
			lastVersion = rec.Version
			if err := fn(rec); err != nil {
				return err
			}
			if rec.Ready() {
				m.executions.Delete(id)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunWorkflow submits node under a title, waits up to timeout and logs the
// outcome. A FAILURE record is returned without error.
func (m *Manager) RunWorkflow(ctx context.Context, title string, node canvas.Node, timeout time.Duration) (*domain.Record, error) {
	m.logger.Info("running workflow", zap.String("workflow", title))

	start := time.Now()
	h, err := m.Submit(ctx, node)
	if err != nil {
		return nil, err
	}

	rec, err := h.Get(ctx, timeout)
	elapsed := time.Since(start)
	if err != nil {
		m.logger.Warn("workflow did not finish",
			zap.String("workflow", title),
			zap.String("task_id", h.ID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return rec, err
	}

	fields := []zap.Field{
		zap.String("workflow", title),
		zap.String("task_id", h.ID),
		zap.String("state", string(rec.State)),
		zap.Duration("elapsed", elapsed),
	}
	if rec.Successful() {
		m.logger.Info("workflow finished", append(fields, zap.Any("result", rec.Result))...)
	} else {
		m.logger.Warn("workflow failed", append(fields, zap.String("error", rec.Error.Error()))...)
	}
	return rec, nil
}

// Active returns the number of submissions not yet seen finished
func (m *Manager) Active() int {
	n := 0
	m.executions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Handle refers to a submitted graph by its root record id
type Handle struct {
	ID      string
	manager *Manager
}

// PollOnce returns the current state without waiting
func (h *Handle) PollOnce(ctx context.Context) (*domain.Record, error) {
	return h.manager.Status(ctx, h.ID)
}

// Get waits up to timeout for the graph to finish, polling at the
// manager's interval. A FAILURE record is a normal return; only a missed
// deadline (domain.ErrTimeout) or a cancelled ctx is an error.
func (h *Handle) Get(ctx context.Context, timeout time.Duration) (*domain.Record, error) {
	return h.GetWithInterval(ctx, timeout, h.manager.pollInterval)
}

// GetWithInterval is Get with an explicit poll interval
func (h *Handle) GetWithInterval(ctx context.Context, timeout, interval time.Duration) (*domain.Record, error) {
	rec, err := storage.Poll(ctx, storage.Reader(h.manager.Status, h.ID), timeout, interval, h.manager.logger)
	if err == nil {
		h.manager.executions.Delete(h.ID)
	}
	return rec, err
}

// Result waits like Get and returns the result value, or the task error
// when the graph failed.
func (h *Handle) Result(ctx context.Context, timeout time.Duration) (any, error) {
	rec, err := h.Get(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if !rec.Successful() {
		if rec.Error == nil {
			return nil, fmt.Errorf("task %s failed", rec.ID)
		}
		return nil, rec.Error
	}
	return rec.Result, nil
}
