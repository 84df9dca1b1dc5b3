package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type signatureJSON struct {
	Type        Kind           `json:"type"`
	TaskName    string         `json:"task"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	Options     Options        `json:"options,omitempty"`
	Immutable   bool           `json:"immutable,omitempty"`
	LinkSuccess *Signature     `json:"link,omitempty"`
	LinkError   *Signature     `json:"link_error,omitempty"`
}

type tasksJSON struct {
	Type  Kind              `json:"type"`
	Tasks []json.RawMessage `json:"tasks"`
}

type chordJSON struct {
	Type   Kind            `json:"type"`
	Header json.RawMessage `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// MarshalJSON implements json.Marshaler.
func (s *Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{
		Type:        KindSingle,
		TaskName:    s.TaskName,
		Args:        s.Args,
		Kwargs:      s.Kwargs,
		Options:     s.Options,
		Immutable:   s.Immutable,
		LinkSuccess: s.LinkSuccess,
		LinkError:   s.LinkError,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var w signatureJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != "" && w.Type != KindSingle {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidNode, KindSingle, w.Type)
	}
	*s = Signature{
		TaskName:    w.TaskName,
		Args:        w.Args,
		Kwargs:      w.Kwargs,
		Options:     w.Options,
		Immutable:   w.Immutable,
		LinkSuccess: w.LinkSuccess,
		LinkError:   w.LinkError,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c *Chain) MarshalJSON() ([]byte, error) {
	return marshalTasks(KindChain, c.Tasks)
}

// MarshalJSON implements json.Marshaler.
func (g *Group) MarshalJSON() ([]byte, error) {
	return marshalTasks(KindGroup, g.Tasks)
}

// MarshalJSON implements json.Marshaler.
func (c *Chord) MarshalJSON() ([]byte, error) {
	header, err := json.Marshal(c.Header)
	if err != nil {
		return nil, err
	}
	body, err := Marshal(c.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chordJSON{Type: KindChord, Header: header, Body: body})
}

func marshalTasks(kind Kind, nodes []Node) ([]byte, error) {
	raw := make([]json.RawMessage, len(nodes))
	for i, n := range nodes {
		b, err := Marshal(n)
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}
	return json.Marshal(tasksJSON{Type: kind, Tasks: raw})
}

// Marshal encodes any node in the wire format.
func Marshal(n Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	return json.Marshal(n)
}

// Unmarshal decodes a node from the wire format.
func Unmarshal(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidNode)
	}

	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}

	switch head.Type {
	case KindSingle:
		var s Signature
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode signature: %w", err)
		}
		return &s, nil
	case KindChain, KindGroup:
		var w tasksJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		tasks, err := unmarshalAll(w.Tasks)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		if head.Type == KindChain {
			return &Chain{Tasks: tasks}, nil
		}
		return &Group{Tasks: tasks}, nil
	case KindChord:
		var w chordJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode chord: %w", err)
		}
		header, err := Unmarshal(w.Header)
		if err != nil {
			return nil, fmt.Errorf("decode chord header: %w", err)
		}
		g, ok := header.(*Group)
		if !ok {
			return nil, fmt.Errorf("%w: chord header must be a group, got %s", ErrInvalidNode, header.Kind())
		}
		body, err := Unmarshal(w.Body)
		if err != nil {
			return nil, fmt.Errorf("decode chord body: %w", err)
		}
		return &Chord{Header: g, Body: body}, nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %q", ErrInvalidNode, head.Type)
	}
}

func unmarshalAll(raw []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, len(raw))
	for i, r := range raw {
		n, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}
