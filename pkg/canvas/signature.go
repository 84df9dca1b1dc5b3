package canvas

import (
	"time"

	"dario.cat/mergo"

	"github.com/aescanero/canvas/pkg/domain"
)

// Option keys understood by the executor.
const (
	OptMaxRetries = "max_retries"
	OptRetryDelay = "retry_delay"
	OptQueue      = "queue"
)

// Options holds per-invocation execution options.
type Options map[string]any

// MaxRetries returns the retry budget, 0 when unset.
func (o Options) MaxRetries() int {
	switch v := o[OptMaxRetries].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// RetryDelay returns the initial retry delay; the option is expressed in seconds.
func (o Options) RetryDelay() time.Duration {
	switch v := o[OptRetryDelay].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	default:
		return 0
	}
}

// Queue returns the queue override, empty when unset.
func (o Options) Queue() string {
	q, _ := o[OptQueue].(string)
	return q
}

// Signature describes one task invocation.
type Signature struct {
	TaskName    string
	Args        []any
	Kwargs      map[string]any
	Options     Options
	LinkSuccess *Signature
	LinkError   *Signature

	// Immutable signatures ignore the input handed over by a parent chain
	// or chord.
	Immutable bool
}

func (*Signature) node() {}

// Kind implements Node.
func (*Signature) Kind() Kind { return KindSingle }

// Sig creates a signature for the named task with positional arguments.
func Sig(name string, args ...any) *Signature {
	s := &Signature{TaskName: name}
	if len(args) > 0 {
		s.Args = cloneSlice(args)
	}
	return s
}

// WithKwargs returns a copy with kwargs merged over the existing ones.
func (s *Signature) WithKwargs(kwargs map[string]any) *Signature {
	c := s.Clone()
	c.Kwargs = mergeMaps(c.Kwargs, kwargs)
	return c
}

// WithOptions returns a copy with opts merged over the existing options.
func (s *Signature) WithOptions(opts Options) *Signature {
	c := s.Clone()
	c.Options = Options(mergeMaps(c.Options, opts))
	return c
}

// Link returns a copy that dispatches next with this task's result on success.
func (s *Signature) Link(next *Signature) *Signature {
	c := s.Clone()
	c.LinkSuccess = next.Clone()
	return c
}

// LinkErr returns a copy that dispatches errback when this task fails.
func (s *Signature) LinkErr(errback *Signature) *Signature {
	c := s.Clone()
	c.LinkError = errback.Clone()
	return c
}

// Si returns an immutable copy.
func (s *Signature) Si() *Signature {
	c := s.Clone()
	c.Immutable = true
	return c
}

// Clone returns a deep copy of the signature.
func (s *Signature) Clone() *Signature {
	if s == nil {
		return nil
	}
	return &Signature{
		TaskName:    s.TaskName,
		Args:        cloneSlice(s.Args),
		Kwargs:      cloneMap(s.Kwargs),
		Options:     Options(cloneMap(s.Options)),
		LinkSuccess: s.LinkSuccess.Clone(),
		LinkError:   s.LinkError.Clone(),
		Immutable:   s.Immutable,
	}
}

// CloneWith returns a deep copy whose args are replaced by args (when
// non-nil) and whose kwargs are merged with kwargs.
func (s *Signature) CloneWith(args []any, kwargs map[string]any) *Signature {
	c := s.Clone()
	if args != nil {
		c.Args = cloneSlice(args)
	}
	if kwargs != nil {
		c.Kwargs = mergeMaps(c.Kwargs, kwargs)
	}
	return c
}

func cloneSlice(in []any) []any {
	if in == nil {
		return nil
	}
	return domain.CloneValue(in).([]any)
}

func cloneMap[M ~map[string]any](in M) map[string]any {
	if in == nil {
		return nil
	}
	return domain.CloneValue(map[string]any(in)).(map[string]any)
}

// mergeMaps merges src over a deep copy of dst. Neither input is aliased
// by the result.
func mergeMaps[M ~map[string]any](dst M, src map[string]any) map[string]any {
	out := cloneMap(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	if len(src) == 0 {
		return out
	}
	if err := mergo.Merge(&out, cloneMap(src), mergo.WithOverride); err != nil {
		// mergo only fails on mismatched kinds, which two string maps never are
		for k, v := range src {
			out[k] = domain.CloneValue(v)
		}
	}
	return out
}
