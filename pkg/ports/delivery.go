package ports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/canvas/pkg/canvas"
)

// FrameKind identifies what a worker must do once the node it just
// finished reached a terminal state.
type FrameKind string

const (
	// FrameChain resumes a chain at Index+1.
	FrameChain FrameKind = "chain"
	// FrameGroup re-aggregates a group after member Index finished.
	FrameGroup FrameKind = "group"
	// FrameChordHeader dispatches the chord body once the header finished.
	FrameChordHeader FrameKind = "chord_header"
	// FrameChordBody mirrors the body outcome onto the chord.
	FrameChordBody FrameKind = "chord_body"
	// FrameReplace mirrors a replacement outcome onto the replaced task.
	FrameReplace FrameKind = "replace"
)

// Frame is one level of the continuation stack carried by a delivery.
// ID is the record of the enclosing composite; Node is kept for frames
// that must dispatch more work (chains and chords).
type Frame struct {
	Kind   FrameKind
	ID     string
	Index  int
	Node   canvas.Node
	Parent *Frame
}

// Delivery is a unit of work handed to a worker: a node to run under a
// record id, with the value produced by the previous step when there is one.
type Delivery struct {
	ID       string
	Node     canvas.Node
	Input    any
	HasInput bool
	Attempt  int
	Frame    *Frame

	// NotBefore delays a retry. Consumers hold the delivery until then and
	// hand it back unacknowledged if they stop first.
	NotBefore time.Time
}

// Due reports how long until d may run; zero or less means now.
func (d *Delivery) Due(now time.Time) time.Duration {
	if d.NotBefore.IsZero() {
		return 0
	}
	return d.NotBefore.Sub(now)
}

type frameJSON struct {
	Kind   FrameKind       `json:"kind"`
	ID     string          `json:"id"`
	Index  int             `json:"index,omitempty"`
	Node   json.RawMessage `json:"node,omitempty"`
	Parent *Frame          `json:"parent,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f *Frame) MarshalJSON() ([]byte, error) {
	fj := frameJSON{Kind: f.Kind, ID: f.ID, Index: f.Index, Parent: f.Parent}
	if f.Node != nil {
		raw, err := canvas.Marshal(f.Node)
		if err != nil {
			return nil, err
		}
		fj.Node = raw
	}
	return json.Marshal(fj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var fj frameJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}
	*f = Frame{Kind: fj.Kind, ID: fj.ID, Index: fj.Index, Parent: fj.Parent}
	if len(fj.Node) > 0 && string(fj.Node) != "null" {
		n, err := canvas.Unmarshal(fj.Node)
		if err != nil {
			return fmt.Errorf("frame %s: %w", fj.ID, err)
		}
		f.Node = n
	}
	return nil
}

type deliveryJSON struct {
	ID       string          `json:"id"`
	Node     json.RawMessage `json:"node"`
	Input    any             `json:"input,omitempty"`
	HasInput bool            `json:"has_input,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Frame     *Frame          `json:"frame,omitempty"`
	NotBefore *time.Time      `json:"not_before,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d *Delivery) MarshalJSON() ([]byte, error) {
	raw, err := canvas.Marshal(d.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node: %w", err)
	}
	dj := deliveryJSON{
		ID:       d.ID,
		Node:     raw,
		Input:    d.Input,
		HasInput: d.HasInput,
		Attempt:  d.Attempt,
		Frame:    d.Frame,
	}
	if !d.NotBefore.IsZero() {
		nb := d.NotBefore.UTC()
		dj.NotBefore = &nb
	}
	return json.Marshal(dj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Delivery) UnmarshalJSON(data []byte) error {
	var dj deliveryJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return err
	}
	n, err := canvas.Unmarshal(dj.Node)
	if err != nil {
		return fmt.Errorf("delivery %s: %w", dj.ID, err)
	}
	*d = Delivery{
		ID:       dj.ID,
		Node:     n,
		Input:    dj.Input,
		HasInput: dj.HasInput,
		Attempt:  dj.Attempt,
		Frame:    dj.Frame,
	}
	if dj.NotBefore != nil {
		d.NotBefore = *dj.NotBefore
	}
	return nil
}

// EncodeDelivery serializes d for a transport.
func EncodeDelivery(d *Delivery) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDelivery is the inverse of EncodeDelivery.
func DecodeDelivery(data []byte) (*Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode delivery: %w", err)
	}
	return &d, nil
}
