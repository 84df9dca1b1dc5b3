package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(state State) *Record {
	return &Record{ID: "rec-1", State: state}
}

func TestApply_HappyPath(t *testing.T) {
	rec := newRecord(StatePending)
	now := time.Now()

	changed, err := Apply(rec, StateStarted, Outcome{}, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = Apply(rec, StateSuccess, Outcome{Result: 7.0}, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateSuccess, rec.State)
	assert.Equal(t, 7.0, rec.Result)
	assert.Equal(t, int64(2), rec.Version)
}

func TestApply_TerminalIdempotence(t *testing.T) {
	rec := newRecord(StateStarted)
	_, err := Apply(rec, StateSuccess, Outcome{Result: []any{1, 2}}, time.Now())
	require.NoError(t, err)

	// identical write, even with different Go number types, is a no-op
	changed, err := Apply(rec, StateSuccess, Outcome{Result: []any{1.0, 2.0}}, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = Apply(rec, StateSuccess, Outcome{Result: []any{3}}, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = Apply(rec, StateFailure, Outcome{Error: NewTaskError(KindHandlerError, "boom")}, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, []any{1, 2}, rec.Result, "terminal result must not change")
}

func TestApply_FailureIdempotence(t *testing.T) {
	rec := newRecord(StateStarted)
	boom := NewTaskError(KindHandlerError, "boom")
	_, err := Apply(rec, StateFailure, Outcome{Error: boom}, time.Now())
	require.NoError(t, err)

	changed, err := Apply(rec, StateFailure, Outcome{Error: NewTaskError(KindHandlerError, "boom")}, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = Apply(rec, StateFailure, Outcome{Error: NewTaskError(KindHandlerError, "other")}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApply_RetryCycle(t *testing.T) {
	rec := newRecord(StateStarted)
	_, err := Apply(rec, StateRetry, Outcome{Error: NewTaskError(KindHandlerError, "flaky")}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Retries)

	_, err = Apply(rec, StatePending, Outcome{}, time.Now())
	require.NoError(t, err)
	_, err = Apply(rec, StateStarted, Outcome{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StateStarted, rec.State)
}

func TestApply_Disallowed(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StatePending, StateSuccess},
		{StatePending, StateRetry},
		{StateRetry, StateSuccess},
		{StateStarted, StatePending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			_, err := Apply(newRecord(tt.from), tt.to, Outcome{}, time.Now())
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestApply_SameNonTerminalStateIsNoop(t *testing.T) {
	rec := newRecord(StateStarted)
	changed, err := Apply(rec, StateStarted, Outcome{}, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(0), rec.Version)
}

func TestAsTaskError(t *testing.T) {
	te := AsTaskError(errors.New("plain"))
	assert.Equal(t, KindHandlerError, te.Kind)
	assert.Equal(t, "plain", te.Message)

	wrapped := AsTaskError(fmtWrap(NewTaskError(KindTypeError, "bad arg")))
	assert.Equal(t, KindTypeError, wrapped.Kind)

	assert.Nil(t, AsTaskError(nil))
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}

func TestSetForward(t *testing.T) {
	rec := newRecord(StateStarted)
	changed, err := SetForward(rec, "next", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "next", rec.ForwardID)

	changed, err = SetForward(rec, "next", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = SetForward(rec, "other", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReplaced)

	_, err = SetForward(newRecord(StateSuccess), "next", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
