package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/canvas/pkg/domain"
)

// Handler executes one task invocation.
type Handler func(tc *Context, args []any, kwargs map[string]any) (any, error)

// Definition is a registered task.
type Definition struct {
	Name    string
	Handler Handler
	Unwrap  Unwrap

	// MaxRetries is the default retry budget, overridden by the
	// signature's max_retries option.
	MaxRetries int
}

// Option configures a Definition at registration time.
type Option func(*Definition)

// WithUnwrap sets the argument adaptation policy.
func WithUnwrap(u Unwrap) Option {
	return func(d *Definition) { d.Unwrap = u }
}

// WithMaxRetries sets the default retry budget.
func WithMaxRetries(n int) Option {
	return func(d *Definition) { d.MaxRetries = n }
}

// Registry maps task names to handlers.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Definition
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Definition)}
}

// Register adds a handler under name.
func (r *Registry) Register(name string, h Handler, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if h == nil {
		return fmt.Errorf("task %q: handler is nil", name)
	}

	def := &Definition{Name: name, Handler: h, Unwrap: UnwrapAll}
	for _, opt := range opts {
		opt(def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, name)
	}
	r.tasks[name] = def
	return nil
}

// MustRegister is Register for static task tables; it panics on error.
func (r *Registry) MustRegister(name string, h Handler, opts ...Option) {
	if err := r.Register(name, h, opts...); err != nil {
		panic(err)
	}
}

// Resolve returns the definition registered under name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTask, name)
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
