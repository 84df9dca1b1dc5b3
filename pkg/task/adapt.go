package task

import (
	"github.com/aescanero/canvas/pkg/domain"
)

// Unwrap selects which single-argument call shapes are spread before the
// handler is invoked.
type Unwrap int

const (
	// UnwrapAll spreads a lone sequence positionally and a lone mapping as
	// keyword arguments.
	UnwrapAll Unwrap = iota
	// UnwrapSequence only spreads a lone sequence.
	UnwrapSequence
	// UnwrapMapping only spreads a lone mapping.
	UnwrapMapping
	// UnwrapNone passes arguments through untouched.
	UnwrapNone
)

func (u Unwrap) String() string {
	switch u {
	case UnwrapAll:
		return "all"
	case UnwrapSequence:
		return "sequence"
	case UnwrapMapping:
		return "mapping"
	case UnwrapNone:
		return "none"
	default:
		return "unknown"
	}
}

// Adapt normalizes raw call arguments:
//   - one ordered sequence and no kwargs: its elements become the positional args
//   - one mapping and no kwargs: its entries become the keyword args
//   - anything else is passed through
//
// The returned containers never alias the inputs.
func Adapt(policy Unwrap, args []any, kwargs map[string]any) ([]any, map[string]any) {
	if len(args) == 1 && len(kwargs) == 0 {
		switch v := args[0].(type) {
		case []any:
			if policy == UnwrapAll || policy == UnwrapSequence {
				return domain.CloneValue(v).([]any), map[string]any{}
			}
		case map[string]any:
			if policy == UnwrapAll || policy == UnwrapMapping {
				return []any{}, domain.CloneValue(v).(map[string]any)
			}
		}
	}

	outArgs := make([]any, len(args))
	for i, a := range args {
		outArgs[i] = domain.CloneValue(a)
	}
	outKwargs := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		outKwargs[k] = domain.CloneValue(v)
	}
	return outArgs, outKwargs
}
