package task

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aescanero/canvas/pkg/domain"
)

// Bind assigns positional and keyword arguments to the named parameters,
// positional first. Every parameter must be bound exactly once and no
// argument may be left over.
func Bind(args []any, kwargs map[string]any, names ...string) ([]any, error) {
	if len(args) > len(names) {
		return nil, domain.NewTaskError(domain.KindTypeError,
			"takes %d positional arguments but %d were given", len(names), len(args))
	}

	out := make([]any, len(names))
	copy(out, args)

	known := make(map[string]int, len(names))
	for i, n := range names {
		known[n] = i
	}
	for k, v := range kwargs {
		i, ok := known[k]
		if !ok {
			return nil, domain.NewTaskError(domain.KindTypeError, "got an unexpected keyword argument %q", k)
		}
		if i < len(args) {
			return nil, domain.NewTaskError(domain.KindTypeError, "got multiple values for argument %q", k)
		}
		out[i] = v
	}

	for i := len(args); i < len(names); i++ {
		if _, ok := kwargs[names[i]]; !ok {
			return nil, domain.NewTaskError(domain.KindTypeError, "missing required argument %q", names[i])
		}
	}
	return out, nil
}

// Float converts a JSON-ish number to float64.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, domain.NewTaskError(domain.KindTypeError, "%q is not a number", n)
		}
		return f, nil
	default:
		return 0, domain.NewTaskError(domain.KindTypeError, "expected a number, got %T", v)
	}
}

// Int converts a JSON-ish integral number to int.
func Int(v any) (int, error) {
	f, err := Float(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, domain.NewTaskError(domain.KindTypeError, "expected an integer, got %v", v)
	}
	return int(f), nil
}

// Floats binds names and converts every bound value with Float.
func Floats(args []any, kwargs map[string]any, names ...string) ([]float64, error) {
	bound, err := Bind(args, kwargs, names...)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(bound))
	for i, v := range bound {
		f, err := Float(v)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", names[i], err)
		}
		out[i] = f
	}
	return out, nil
}

// Strings binds names and requires every bound value to be a string.
func Strings(args []any, kwargs map[string]any, names ...string) ([]string, error) {
	bound, err := Bind(args, kwargs, names...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bound))
	for i, v := range bound {
		s, ok := v.(string)
		if !ok {
			return nil, domain.NewTaskError(domain.KindTypeError, "argument %q: expected a string, got %T", names[i], v)
		}
		out[i] = s
	}
	return out, nil
}

// List requires v to be an ordered sequence.
func List(v any) ([]any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, domain.NewTaskError(domain.KindTypeError, "expected a list, got %T", v)
	}
	return l, nil
}
