package domain

import (
	"fmt"
	"time"
)

// Apply performs a validated state change on rec in place.
//
// It returns changed=false for benign no-ops: re-entering the current
// non-terminal state, or repeating the exact terminal write already stored.
// Any other change to a terminal record is ErrInvalidTransition. Stores call
// Apply inside their own compare-and-set section.
func Apply(rec *Record, to State, out Outcome, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}

	if rec.State.IsTerminal() {
		if to == rec.State && sameOutcome(rec, out) {
			return false, nil
		}
		return false, fmt.Errorf("%w: record %s is %s, cannot move to %s",
			ErrInvalidTransition, rec.ID, rec.State, to)
	}

	if to == rec.State {
		return false, nil
	}

	if !ValidTransition(rec.State, to) {
		return false, fmt.Errorf("%w: %s -> %s for record %s",
			ErrInvalidTransition, rec.State, to, rec.ID)
	}

	switch to {
	case StateSuccess:
		rec.Result = CloneValue(out.Result)
		rec.Error = nil
	case StateFailure:
		rec.Result = nil
		rec.Error = out.Error
		if rec.Error == nil {
			rec.Error = &TaskError{Kind: KindHandlerError, Message: "task failed"}
		}
	case StateRetry:
		rec.Retries++
		rec.Error = out.Error
	}

	rec.State = to
	rec.Version++
	rec.UpdatedAt = now
	return true, nil
}

func sameOutcome(rec *Record, out Outcome) bool {
	if rec.State == StateSuccess {
		return SameValue(rec.Result, out.Result)
	}
	if rec.Error == nil || out.Error == nil {
		return rec.Error == nil && out.Error == nil
	}
	return rec.Error.Kind == out.Error.Kind && rec.Error.Message == out.Error.Message
}

// SetForward points rec at the record replacing it. Setting the same
// forward again is a no-op; a different one is ErrAlreadyReplaced. Terminal
// records cannot be forwarded.
func SetForward(rec *Record, to string, now time.Time) (bool, error) {
	if to == "" {
		return false, fmt.Errorf("forward target is required")
	}
	if rec.State.IsTerminal() {
		return false, fmt.Errorf("%w: record %s is %s, cannot forward",
			ErrInvalidTransition, rec.ID, rec.State)
	}
	if rec.ForwardID == to {
		return false, nil
	}
	if rec.ForwardID != "" {
		return false, fmt.Errorf("%w: record %s already forwards to %s",
			ErrAlreadyReplaced, rec.ID, rec.ForwardID)
	}
	rec.ForwardID = to
	rec.Version++
	rec.UpdatedAt = now
	return true, nil
}
