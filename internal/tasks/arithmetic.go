package tasks

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/mathapi"
	"github.com/aescanero/canvas/pkg/task"
)

// ErrDivisionByZero fails the local divide task.
var ErrDivisionByZero = errors.New("division by zero")

func binary(delay time.Duration, op func(x, y float64) (float64, error)) task.Handler {
	return func(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
		xy, err := task.Floats(args, kwargs, "x", "y")
		if err != nil {
			return nil, err
		}
		tc.Logger.Info("computing", zap.Float64("x", xy[0]), zap.Float64("y", xy[1]))
		if err := sleep(tc, delay); err != nil {
			return nil, err
		}
		return op(xy[0], xy[1])
	}
}

func registerArithmetic(reg *task.Registry, deps Deps) error {
	ops := map[string]func(x, y float64) (float64, error){
		"add":      func(x, y float64) (float64, error) { return x + y, nil },
		"subtract": func(x, y float64) (float64, error) { return x - y, nil },
		"multiply": func(x, y float64) (float64, error) { return x * y, nil },
		"divide": func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			return x / y, nil
		},
	}
	for name, op := range ops {
		if err := reg.Register(name, binary(deps.StepDelay, op)); err != nil {
			return err
		}
	}
	return nil
}

// registerHTTP adds http.<op> for every math API operation. The remote
// divide answers 0 for a zero divisor instead of failing.
func registerHTTP(reg *task.Registry, deps Deps) error {
	for _, op := range mathapi.Operations() {
		params := []string{"x", "y"}
		if mathapi.Arity(op) == 1 {
			params = []string{"x"}
		}
		if err := reg.Register("http."+op, remote(deps.Math, op, params)); err != nil {
			return err
		}
	}
	return nil
}

func remote(client *mathapi.Client, op string, params []string) task.Handler {
	return func(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
		operands, err := task.Floats(args, kwargs, params...)
		if err != nil {
			return nil, err
		}
		return client.Compute(tc, op, operands...)
	}
}
