package canvas

import (
	"errors"
	"fmt"
)

// Kind names a node variant.
type Kind string

const (
	KindSingle Kind = "single"
	KindChain  Kind = "chain"
	KindGroup  Kind = "group"
	KindChord  Kind = "chord"
)

// Node is a task graph node. The set of implementations is closed:
// *Signature, *Chain, *Group and *Chord.
type Node interface {
	Kind() Kind
	node()
}

// Chain runs its tasks one after another. The result of task i is the
// input of task i+1.
type Chain struct {
	Tasks []Node
}

func (*Chain) node() {}

// Kind implements Node.
func (*Chain) Kind() Kind { return KindChain }

// Group runs its tasks concurrently and collects their results in
// submission order.
type Group struct {
	Tasks []Node
}

func (*Group) node() {}

// Kind implements Node.
func (*Group) Kind() Kind { return KindGroup }

// Chord runs Header and hands its ordered result list to Body.
type Chord struct {
	Header *Group
	Body   Node
}

func (*Chord) node() {}

// Kind implements Node.
func (*Chord) Kind() Kind { return KindChord }

// Then composes nodes sequentially. Nested chains are flattened, so
// Then(Then(a, b), c) equals Then(a, b, c).
func Then(nodes ...Node) *Chain {
	c := &Chain{Tasks: make([]Node, 0, len(nodes))}
	for _, n := range nodes {
		if inner, ok := n.(*Chain); ok {
			c.Tasks = append(c.Tasks, Then(inner.Tasks...).Tasks...)
			continue
		}
		c.Tasks = append(c.Tasks, Clone(n))
	}
	return c
}

// Then appends nodes to a copy of the chain.
func (c *Chain) Then(nodes ...Node) *Chain {
	return Then(append([]Node{c}, nodes...)...)
}

// NewGroup creates a group of independent nodes.
func NewGroup(nodes ...Node) *Group {
	g := &Group{Tasks: make([]Node, len(nodes))}
	for i, n := range nodes {
		g.Tasks[i] = Clone(n)
	}
	return g
}

// NewChord creates a chord whose body receives the header results.
func NewChord(header *Group, body Node) *Chord {
	h, _ := Clone(header).(*Group)
	return &Chord{Header: h, Body: Clone(body)}
}

// Map clones template once per item, replacing its args with the item.
// A slice item is spread as positional arguments, anything else becomes the
// single argument.
func Map(template *Signature, items []any) *Group {
	g := &Group{Tasks: make([]Node, len(items))}
	for i, item := range items {
		args, ok := item.([]any)
		if !ok {
			args = []any{item}
		}
		g.Tasks[i] = template.CloneWith(args, nil)
	}
	return g
}

// Clone returns a deep copy of any node.
func Clone(n Node) Node {
	switch t := n.(type) {
	case *Signature:
		return t.Clone()
	case *Chain:
		if t == nil {
			return (*Chain)(nil)
		}
		return &Chain{Tasks: cloneNodes(t.Tasks)}
	case *Group:
		if t == nil {
			return (*Group)(nil)
		}
		return &Group{Tasks: cloneNodes(t.Tasks)}
	case *Chord:
		if t == nil {
			return (*Chord)(nil)
		}
		h, _ := Clone(t.Header).(*Group)
		return &Chord{Header: h, Body: Clone(t.Body)}
	default:
		return nil
	}
}

func cloneNodes(in []Node) []Node {
	out := make([]Node, len(in))
	for i, n := range in {
		out[i] = Clone(n)
	}
	return out
}

// Walk calls fn for every signature reachable from n, including link
// targets, in depth-first submission order.
func Walk(n Node, fn func(*Signature) error) error {
	switch t := n.(type) {
	case *Signature:
		if t == nil {
			return nil
		}
		if err := fn(t); err != nil {
			return err
		}
		if t.LinkSuccess != nil {
			if err := Walk(t.LinkSuccess, fn); err != nil {
				return err
			}
		}
		if t.LinkError != nil {
			return Walk(t.LinkError, fn)
		}
		return nil
	case *Chain:
		if t == nil {
			return nil
		}
		return walkAll(t.Tasks, fn)
	case *Group:
		if t == nil {
			return nil
		}
		return walkAll(t.Tasks, fn)
	case *Chord:
		if t == nil {
			return nil
		}
		if t.Header != nil {
			if err := walkAll(t.Header.Tasks, fn); err != nil {
				return err
			}
		}
		return Walk(t.Body, fn)
	default:
		return nil
	}
}

func walkAll(nodes []Node, fn func(*Signature) error) error {
	for _, n := range nodes {
		if err := Walk(n, fn); err != nil {
			return err
		}
	}
	return nil
}

// ErrInvalidNode is returned for structurally broken graphs.
var ErrInvalidNode = errors.New("invalid canvas node")

// Validate checks the structure of a graph: no nil nodes, every signature
// names a task and every chord has a header and a body.
func Validate(n Node) error {
	switch t := n.(type) {
	case *Signature:
		if t == nil {
			return fmt.Errorf("%w: nil signature", ErrInvalidNode)
		}
		if t.TaskName == "" {
			return fmt.Errorf("%w: signature without task name", ErrInvalidNode)
		}
		return nil
	case *Chain:
		if t == nil {
			return fmt.Errorf("%w: nil chain", ErrInvalidNode)
		}
		return validateAll(t.Tasks)
	case *Group:
		if t == nil {
			return fmt.Errorf("%w: nil group", ErrInvalidNode)
		}
		return validateAll(t.Tasks)
	case *Chord:
		if t == nil || t.Header == nil || t.Body == nil {
			return fmt.Errorf("%w: chord needs a header and a body", ErrInvalidNode)
		}
		if err := validateAll(t.Header.Tasks); err != nil {
			return err
		}
		return Validate(t.Body)
	default:
		return fmt.Errorf("%w: unsupported node %T", ErrInvalidNode, n)
	}
}

func validateAll(nodes []Node) error {
	for i, n := range nodes {
		if err := Validate(n); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}
