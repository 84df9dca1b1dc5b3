package task

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

// Context is handed to a handler for the duration of one invocation.
type Context struct {
	context.Context

	TaskID   string
	TaskName string
	Attempt  int
	Logger   *zap.Logger

	mu          sync.Mutex
	replacement canvas.Node
}

// NewContext creates an invocation context.
func NewContext(ctx context.Context, taskID, taskName string, attempt int, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Context:  ctx,
		TaskID:   taskID,
		TaskName: taskName,
		Attempt:  attempt,
		Logger:   logger.With(zap.String("task_id", taskID), zap.String("task_name", taskName)),
	}
}

// Replace asks the executor to substitute this invocation with node. The
// caller waiting on this task observes node's outcome instead of the
// handler's return value, which is ignored. Only one replacement is allowed
// per invocation.
func (c *Context) Replace(node canvas.Node) error {
	if err := canvas.Validate(node); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replacement != nil {
		return domain.ErrAlreadyReplaced
	}
	c.replacement = canvas.Clone(node)
	return nil
}

// Replacement returns the node requested through Replace, or nil.
func (c *Context) Replacement() canvas.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replacement
}
