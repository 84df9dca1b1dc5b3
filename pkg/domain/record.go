package domain

import (
	"encoding/json"
	"reflect"
	"time"
)

// State is the lifecycle state of a task record.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRetry   State = "RETRY"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateStarted, StateSuccess, StateFailure, StateRetry:
		return true
	default:
		return false
	}
}

// validTransitions maps each state to the states it may move to.
// Terminal states have no entry.
var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateStarted: true,
		StateFailure: true,
	},
	StateStarted: {
		StateSuccess: true,
		StateFailure: true,
		StateRetry:   true,
	},
	StateRetry: {
		StatePending: true,
	},
}

// ValidTransition reports whether moving from one state to another is allowed.
func ValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Record is the result store entity for one node of a task graph.
type Record struct {
	ID        string     `json:"id"`
	TaskName  string     `json:"task_name,omitempty"`
	State     State      `json:"state"`
	Result    any        `json:"result,omitempty"`
	Error     *TaskError `json:"error,omitempty"`
	ParentID  string     `json:"parent_id,omitempty"`
	ForwardID string     `json:"forward_id,omitempty"`
	Children  []string   `json:"children,omitempty"`
	Retries   int        `json:"retries"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Ready reports whether the record reached a terminal state.
func (r *Record) Ready() bool {
	return r.State.IsTerminal()
}

// Successful reports whether the record finished with SUCCESS.
func (r *Record) Successful() bool {
	return r.State == StateSuccess
}

// Clone returns a copy that shares nothing mutable with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Children != nil {
		c.Children = append([]string(nil), r.Children...)
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	c.Result = CloneValue(r.Result)
	return &c
}

// CreateOptions carries the optional fields of a new record.
type CreateOptions struct {
	TaskName string
	ParentID string
	Children []string
}

// Outcome is the payload written together with a state transition.
type Outcome struct {
	Result any
	Error  *TaskError
}

// SameValue reports whether two values have the same JSON representation.
// Values read back from a durable backend lose their Go types, so equality
// is judged on the encoded form.
func SameValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// CloneValue deep-copies v. Slices, arrays and maps of any element type
// are copied recursively, so typed containers such as []string or
// map[string]int are not shared with the result. Pointers, structs and
// scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return cloneReflect(rv).Interface()
	default:
		return v
	}
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneReflect(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	default:
		return v
	}
}
