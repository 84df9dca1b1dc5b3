package orchestrator

import (
	"fmt"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

// Validator validates graphs before submission
type Validator struct {
	registry *task.Registry
}

// NewValidator creates a new graph validator. With a nil registry only the
// graph structure is checked; task names are resolved by the workers.
func NewValidator(registry *task.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate validates a graph structure
func (v *Validator) Validate(node canvas.Node) error {
	if node == nil {
		return fmt.Errorf("graph is nil")
	}

	if err := canvas.Validate(node); err != nil {
		return err
	}

	return canvas.Walk(node, v.validateSignature)
}

// validateSignature validates a single signature
func (v *Validator) validateSignature(sig *canvas.Signature) error {
	if v.registry != nil && !v.registry.Has(sig.TaskName) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTask, sig.TaskName)
	}

	if raw, ok := sig.Options[canvas.OptMaxRetries]; ok {
		if n := sig.Options.MaxRetries(); n < 0 {
			return fmt.Errorf("task %s: max_retries must not be negative, got %v", sig.TaskName, raw)
		}
	}

	if raw, ok := sig.Options[canvas.OptQueue]; ok {
		if _, isString := raw.(string); !isString {
			return fmt.Errorf("task %s: queue must be a string, got %T", sig.TaskName, raw)
		}
	}

	return nil
}
