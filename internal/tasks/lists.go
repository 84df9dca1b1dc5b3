package tasks

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

func generateList(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	bound, err := task.Bind(args, kwargs, "amount")
	if err != nil {
		return nil, err
	}
	amount, err := task.Int(bound[0])
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, domain.NewTaskError(domain.KindTypeError, "amount must not be negative, got %d", amount)
	}

	tc.Logger.Info("generating list", zap.Int("amount", amount))
	out := make([]int, amount)
	for i := range out {
		out[i] = i + 1
	}
	return out, nil
}

func doubleNumber(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
	x, err := task.Floats(args, kwargs, "x")
	if err != nil {
		return nil, err
	}
	return x[0] * 2, nil
}

func bindNumbers(args []any, kwargs map[string]any) ([]any, error) {
	bound, err := task.Bind(args, kwargs, "numbers")
	if err != nil {
		return nil, err
	}
	return task.List(bound[0])
}

func sumNumbers(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	numbers, err := bindNumbers(args, kwargs)
	if err != nil {
		return nil, err
	}
	var sum float64
	for i, n := range numbers {
		f, err := task.Float(n)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		sum += f
	}
	tc.Logger.Info("summed numbers", zap.Int("count", len(numbers)))
	return sum, nil
}

// doubleNumberList replaces itself with a group doubling every element.
func doubleNumberList(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	numbers, err := bindNumbers(args, kwargs)
	if err != nil {
		return nil, err
	}
	tc.Logger.Info("replacing with a group of double_number", zap.Int("size", len(numbers)))
	return nil, tc.Replace(canvas.Map(canvas.Sig("double_number"), numbers))
}

// dmap replaces itself with callback applied to every item.
func dmap(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	bound, err := task.Bind(args, kwargs, "items", "callback")
	if err != nil {
		return nil, err
	}
	items, err := task.List(bound[0])
	if err != nil {
		return nil, err
	}
	callback, err := callbackSignature(bound[1])
	if err != nil {
		return nil, err
	}

	tc.Logger.Info("mapping callback over items",
		zap.String("callback", callback.TaskName),
		zap.Int("size", len(items)))
	return nil, tc.Replace(canvas.Map(callback, items))
}

// callbackSignature accepts a task name or an encoded signature.
func callbackSignature(v any) (*canvas.Signature, error) {
	switch c := v.(type) {
	case string:
		if c == "" {
			return nil, domain.NewTaskError(domain.KindTypeError, "callback task name is empty")
		}
		return canvas.Sig(c), nil
	case map[string]any:
		data, err := json.Marshal(c)
		if err != nil {
			return nil, domain.NewTaskError(domain.KindTypeError, "callback is not serializable: %v", err)
		}
		var sig canvas.Signature
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, domain.NewTaskError(domain.KindTypeError, "callback is not a signature: %v", err)
		}
		return &sig, nil
	default:
		return nil, domain.NewTaskError(domain.KindTypeError, "callback must be a task name or signature, got %T", v)
	}
}

func registerLists(reg *task.Registry, _ Deps) error {
	none := task.WithUnwrap(task.UnwrapNone)
	if err := reg.Register("generate_list", generateList, none); err != nil {
		return err
	}
	if err := reg.Register("double_number", doubleNumber, none); err != nil {
		return err
	}
	if err := reg.Register("sum_numbers", sumNumbers, none); err != nil {
		return err
	}
	if err := reg.Register("double_number_list", doubleNumberList, none); err != nil {
		return err
	}
	return reg.Register("dmap", dmap, none)
}
