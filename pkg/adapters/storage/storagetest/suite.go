// Package storagetest holds the behaviour every ResultStore backend must
// share. Backend tests call Run with a constructor for a fresh store.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
)

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) ports.ResultStore) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("TerminalIdempotence", func(t *testing.T) { testTerminalIdempotence(t, newStore(t)) })
	t.Run("RetryCycle", func(t *testing.T) { testRetryCycle(t, newStore(t)) })
	t.Run("Forward", func(t *testing.T) { testForward(t, newStore(t)) })
	t.Run("ConcurrentTerminalWriters", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
}

func newID() string { return uuid.NewString() }

func testCreateGet(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id := newID()

	rec, err := s.Create(ctx, id, domain.CreateOptions{
		TaskName: "add",
		ParentID: "parent",
		Children: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, rec.State)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "add", got.TaskName)
	assert.Equal(t, "parent", got.ParentID)
	assert.Equal(t, []string{"a", "b"}, got.Children)
	assert.Equal(t, domain.StatePending, got.State)

	_, err = s.Create(ctx, id, domain.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrRecordExists)

	_, err = s.Get(ctx, newID())
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	_, _, err = s.Transition(ctx, newID(), domain.StateStarted, domain.Outcome{})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func testLifecycle(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id := newID()
	_, err := s.Create(ctx, id, domain.CreateOptions{TaskName: "add"})
	require.NoError(t, err)

	rec, changed, err := s.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StateStarted, rec.State)

	// redelivery of the same start
	_, changed, err = s.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)
	assert.False(t, changed)

	rec, changed, err = s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: []any{1.0, 2.0}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, rec.Ready())

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, got.State)
	assert.Equal(t, []any{1.0, 2.0}, got.Result)
	assert.Nil(t, got.Error)
}

func testTerminalIdempotence(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id := newID()
	_, err := s.Create(ctx, id, domain.CreateOptions{})
	require.NoError(t, err)
	_, _, err = s.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)

	_, changed, err := s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: 7.0})
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: 7.0})
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: 8.0})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = s.Transition(ctx, id, domain.StateFailure, domain.Outcome{Error: &domain.TaskError{Kind: "X"}})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Result)

	assert.Error(t, s.Forward(ctx, id, newID()))
}

func testRetryCycle(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id := newID()
	_, err := s.Create(ctx, id, domain.CreateOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err = s.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
		require.NoError(t, err)
		_, _, err = s.Transition(ctx, id, domain.StateRetry, domain.Outcome{Error: &domain.TaskError{Kind: domain.KindHandlerError, Message: "flaky"}})
		require.NoError(t, err)
		_, _, err = s.Transition(ctx, id, domain.StatePending, domain.Outcome{})
		require.NoError(t, err)
	}

	_, _, err = s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: 1.0})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, domain.StatePending, got.State)
}

func testForward(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id, repl := newID(), newID()
	_, err := s.Create(ctx, id, domain.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Forward(ctx, id, repl))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repl, got.ForwardID)

	// a forward is set once
	assert.ErrorIs(t, s.Forward(ctx, id, newID()), domain.ErrAlreadyReplaced)
	assert.NoError(t, s.Forward(ctx, id, repl))

	assert.ErrorIs(t, s.Forward(ctx, newID(), repl), domain.ErrRecordNotFound)
}

func testConcurrentWriters(t *testing.T, s ports.ResultStore) {
	ctx := context.Background()
	id := newID()
	_, err := s.Create(ctx, id, domain.CreateOptions{})
	require.NoError(t, err)
	_, _, err = s.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.Transition(ctx, id, domain.StateSuccess, domain.Outcome{Result: "done"})
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changes)
}
