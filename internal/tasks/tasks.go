package tasks

import (
	"fmt"
	"time"

	"github.com/aescanero/canvas/pkg/adapters/llm"
	"github.com/aescanero/canvas/pkg/mathapi"
	"github.com/aescanero/canvas/pkg/task"
)

// Deps are the collaborators of the built-in tasks. Nil clients leave the
// tasks that need them unregistered.
type Deps struct {
	Math *mathapi.Client
	LLM  *llm.Client

	// StepDelay is slept by the local arithmetic tasks to make ordering
	// visible in logs.
	StepDelay time.Duration
}

// Register adds every built-in task whose dependencies are available.
func Register(reg *task.Registry, deps Deps) error {
	sets := []func(*task.Registry, Deps) error{
		registerArithmetic,
		registerPipeline,
		registerLists,
		registerWords,
	}
	if deps.Math != nil {
		sets = append(sets, registerHTTP)
	}

	for _, register := range sets {
		if err := register(reg, deps); err != nil {
			return err
		}
	}

	if deps.LLM != nil {
		if err := deps.LLM.Register(reg); err != nil {
			return fmt.Errorf("failed to register %s: %w", llm.TaskName, err)
		}
	}
	return nil
}

// sleep waits d or until the invocation context ends.
func sleep(tc *task.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-tc.Done():
		return tc.Err()
	case <-t.C:
		return nil
	}
}
