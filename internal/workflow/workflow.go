package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/canvas/pkg/canvas"
)

// UIDPlaceholder is replaced with a new ULID at load time.
const UIDPlaceholder = "${ulid}"

// DefaultTimeout applies when a file sets no timeout.
const DefaultTimeout = 30 * time.Second

// File is the on-disk workflow document.
type File struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Graph       Step          `yaml:"graph"`
}

// Step is one node of the graph.
type Step struct {
	Task      string         `yaml:"task,omitempty"`
	Args      []any          `yaml:"args,omitempty"`
	Kwargs    map[string]any `yaml:"kwargs,omitempty"`
	Options   map[string]any `yaml:"options,omitempty"`
	Immutable bool           `yaml:"immutable,omitempty"`
	Link      *Step          `yaml:"link,omitempty"`
	LinkError *Step          `yaml:"link_error,omitempty"`

	Chain []Step     `yaml:"chain,omitempty"`
	Group []Step     `yaml:"group,omitempty"`
	Chord *ChordStep `yaml:"chord,omitempty"`
}

// ChordStep is a group header followed by a body step.
type ChordStep struct {
	Header []Step `yaml:"header"`
	Body   *Step  `yaml:"body"`
}

// Workflow is a loaded, buildable workflow.
type Workflow struct {
	Name        string
	Description string
	Timeout     time.Duration
	Graph       canvas.Node
}

// Option configures loading.
type Option func(*loader)

type loader struct {
	newUID func() string
}

// WithUIDSource overrides how ${ulid} placeholders are filled.
func WithUIDSource(fn func() string) Option {
	return func(l *loader) { l.newUID = fn }
}

// Load reads and builds a workflow file.
func Load(path string, opts ...Option) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Parse(data, opts...)
}

// Parse builds a workflow from YAML. Unknown fields are rejected.
func Parse(data []byte, opts ...Option) (*Workflow, error) {
	l := &loader{newUID: func() string { return ulid.Make().String() }}
	for _, opt := range opts {
		opt(l)
	}

	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if f.Name == "" {
		return nil, errors.New("invalid workflow: name is required")
	}
	if f.Timeout < 0 {
		return nil, fmt.Errorf("invalid workflow %q: timeout must not be negative", f.Name)
	}
	if f.Timeout == 0 {
		f.Timeout = DefaultTimeout
	}

	graph, err := l.build(&f.Graph, "graph")
	if err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", f.Name, err)
	}
	if err := canvas.Validate(graph); err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", f.Name, err)
	}

	return &Workflow{
		Name:        f.Name,
		Description: f.Description,
		Timeout:     f.Timeout,
		Graph:       graph,
	}, nil
}

func (l *loader) build(s *Step, at string) (canvas.Node, error) {
	if s == nil {
		return nil, fmt.Errorf("%s: step is empty", at)
	}

	set := 0
	for _, present := range []bool{s.Task != "", s.Chain != nil, s.Group != nil, s.Chord != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%s: a step needs exactly one of task, chain, group or chord", at)
	}

	if s.Task == "" && (s.Args != nil || s.Kwargs != nil || s.Options != nil || s.Immutable || s.Link != nil || s.LinkError != nil) {
		return nil, fmt.Errorf("%s: args, kwargs, options and links only apply to a task", at)
	}

	switch {
	case s.Task != "":
		return l.signature(s, at)
	case s.Chain != nil:
		nodes, err := l.buildAll(s.Chain, at+".chain")
		if err != nil {
			return nil, err
		}
		return canvas.Then(nodes...), nil
	case s.Group != nil:
		nodes, err := l.buildAll(s.Group, at+".group")
		if err != nil {
			return nil, err
		}
		return canvas.NewGroup(nodes...), nil
	default:
		header, err := l.buildAll(s.Chord.Header, at+".chord.header")
		if err != nil {
			return nil, err
		}
		body, err := l.build(s.Chord.Body, at+".chord.body")
		if err != nil {
			return nil, err
		}
		return canvas.NewChord(canvas.NewGroup(header...), body), nil
	}
}

func (l *loader) buildAll(steps []Step, at string) ([]canvas.Node, error) {
	nodes := make([]canvas.Node, len(steps))
	for i := range steps {
		n, err := l.build(&steps[i], fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func (l *loader) signature(s *Step, at string) (*canvas.Signature, error) {
	args, _ := l.expand(s.Args).([]any)
	sig := canvas.Sig(s.Task, args...)
	if s.Kwargs != nil {
		kwargs, _ := l.expand(s.Kwargs).(map[string]any)
		sig = sig.WithKwargs(kwargs)
	}
	if s.Options != nil {
		sig = sig.WithOptions(canvas.Options(s.Options))
	}
	if s.Immutable {
		sig = sig.Si()
	}

	if s.Link != nil {
		target, err := l.linkTarget(s.Link, at+".link")
		if err != nil {
			return nil, err
		}
		sig = sig.Link(target)
	}
	if s.LinkError != nil {
		target, err := l.linkTarget(s.LinkError, at+".link_error")
		if err != nil {
			return nil, err
		}
		sig = sig.LinkErr(target)
	}
	return sig, nil
}

func (l *loader) linkTarget(s *Step, at string) (*canvas.Signature, error) {
	n, err := l.build(s, at)
	if err != nil {
		return nil, err
	}
	target, ok := n.(*canvas.Signature)
	if !ok {
		return nil, fmt.Errorf("%s: links must be tasks, got %s", at, n.Kind())
	}
	return target, nil
}

// expand replaces placeholders and converts YAML containers to the JSON
// shapes the canvas expects.
func (l *loader) expand(v any) any {
	switch t := v.(type) {
	case string:
		if t == UIDPlaceholder {
			return l.newUID()
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = l.expand(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = l.expand(e)
		}
		return out
	default:
		return v
	}
}
