package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aescanero/canvas/pkg/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Graph finished with SUCCESS
	ExitFailure      = 1 // Graph finished with FAILURE or did not finish in time
	ExitCommandError = 2 // Bad input, unreachable daemon, unknown task
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// printer writes command output in the selected format.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) json(status string, data interface{}, errMsg string) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: status, Data: data, Error: errMsg})
}

// record prints a task record. Text output is one header line followed by
// the result or the error.
func (p printer) record(title string, rec *domain.Record) error {
	if p.format == "json" {
		if rec.State == domain.StateFailure && rec.Error != nil {
			return p.json("error", rec, rec.Error.Error())
		}
		return p.json("ok", rec, "")
	}

	if title != "" {
		fmt.Fprintf(p.w, "%s: ", title)
	}
	fmt.Fprintf(p.w, "%s %s\n", rec.ID, rec.State)
	if rec.ForwardID != "" && !rec.Ready() {
		fmt.Fprintf(p.w, "  replaced by %s\n", rec.ForwardID)
	}
	switch rec.State {
	case domain.StateSuccess:
		out, err := json.Marshal(rec.Result)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "  result: %s\n", out)
	case domain.StateFailure, domain.StateRetry:
		if rec.Error != nil {
			fmt.Fprintf(p.w, "  error: %s\n", rec.Error.Error())
			if rec.Error.Trace != "" {
				fmt.Fprintln(p.w, rec.Error.Trace)
			}
		}
	}
	return nil
}

// outcome maps a finished record to the command error.
func outcome(rec *domain.Record) error {
	if rec.State == domain.StateFailure {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("task %s failed", rec.ID)}
	}
	return nil
}
