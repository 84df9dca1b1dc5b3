package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTask is returned when a task name is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask is returned when a task name is registered twice.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrInvalidTransition is returned when a record state change is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyReplaced is returned when a task requests replacement twice.
	ErrAlreadyReplaced = errors.New("task already replaced")

	// ErrTimeout is returned to a waiting client whose deadline passed.
	ErrTimeout = errors.New("timed out waiting for task")

	// ErrRecordNotFound is returned when a record id is unknown to the store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned when creating a record whose id is taken.
	ErrRecordExists = errors.New("record already exists")
)

// Error kinds recorded on failed task records.
const (
	KindHandlerError = "HandlerError"
	KindUnknownTask  = "UnknownTask"
	KindTypeError    = "TypeError"
	KindPanic        = "Panic"
)

// TaskError is the captured failure of a task, stored on its record.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewTaskError creates a TaskError of the given kind.
func NewTaskError(kind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsTaskError converts any error into a TaskError. Errors that already are
// (or wrap) a TaskError keep their kind, anything else becomes a HandlerError.
func AsTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		c := *te
		return &c
	}
	if errors.Is(err, ErrUnknownTask) {
		return &TaskError{Kind: KindUnknownTask, Message: err.Error()}
	}
	return &TaskError{Kind: KindHandlerError, Message: err.Error()}
}
