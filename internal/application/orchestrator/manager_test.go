package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/workers"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
	"github.com/aescanero/canvas/pkg/task"
)

func testRegistry() *task.Registry {
	reg := task.NewRegistry()
	reg.MustRegister("add", func(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
		xy, err := task.Floats(args, kwargs, "x", "y")
		if err != nil {
			return nil, err
		}
		return xy[0] + xy[1], nil
	})
	reg.MustRegister("double", func(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
		x, err := task.Floats(args, kwargs, "x")
		if err != nil {
			return nil, err
		}
		return x[0] * 2, nil
	})
	reg.MustRegister("fanout", func(tc *task.Context, args []any, _ map[string]any) (any, error) {
		items, err := task.List(args[0])
		if err != nil {
			return nil, err
		}
		return nil, tc.Replace(canvas.Map(canvas.Sig("double"), items))
	}, task.WithUnwrap(task.UnwrapNone))
	reg.MustRegister("fail", func(*task.Context, []any, map[string]any) (any, error) {
		return nil, errors.New("nope")
	})
	return reg
}

// startStack wires a manager to a running worker pool over memory adapters.
func startStack(t *testing.T, store ports.ResultStore) *Manager {
	t.Helper()
	reg := testRegistry()
	broker := brokermem.NewBroker(zap.NewNop())

	exec := workers.NewExecutor(reg, store, broker, nil, zap.NewNop(), workers.ExecutorConfig{})
	pool := workers.NewPool(3, nil, broker, exec, nil, zap.NewNop(), 0)
	require.NoError(t, pool.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
		broker.Close()
	})

	return NewManager(broker, store, nil, NewValidator(reg), zap.NewNop(), "", 10*time.Millisecond)
}

func TestManager_SubmitAndGet(t *testing.T) {
	m := startStack(t, storemem.NewResultStore())
	ctx := context.Background()

	h, err := m.Submit(ctx, canvas.Then(canvas.Sig("add", 1, 2), canvas.Sig("double")))
	require.NoError(t, err)

	rec, err := h.Get(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, rec.State)
	assert.Equal(t, 6.0, rec.Result)

	v, err := h.Result(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
	assert.Equal(t, 0, m.Active())
}

func TestManager_FailureIsAResultNotAnError(t *testing.T) {
	m := startStack(t, storemem.NewResultStore())
	ctx := context.Background()

	h, err := m.Submit(ctx, canvas.Sig("fail"))
	require.NoError(t, err)

	rec, err := h.Get(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailure, rec.State)

	_, err = h.Result(ctx, time.Second)
	var te *domain.TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "nope", te.Message)
}

func TestManager_UnknownTaskIsRejectedSynchronously(t *testing.T) {
	store := storemem.NewResultStore()
	m := NewManager(brokermem.NewBroker(nil), store, nil, NewValidator(testRegistry()), zap.NewNop(), "", 0)

	_, err := m.Submit(context.Background(), canvas.Then(canvas.Sig("add", 1, 2), canvas.Sig("missing")))
	assert.ErrorIs(t, err, domain.ErrUnknownTask)
	assert.Equal(t, 0, store.Len())

	_, err = m.Submit(context.Background(), canvas.Sig("add").LinkErr(canvas.Sig("missing_errback")))
	assert.ErrorIs(t, err, domain.ErrUnknownTask)

	_, err = m.Submit(context.Background(), canvas.Sig("add").WithOptions(canvas.Options{canvas.OptQueue: 3}))
	assert.Error(t, err)
}

// A handle on a task that replaced itself observes the sub-graph's outcome.
func TestManager_ReplacementIsTransparent(t *testing.T) {
	store := storemem.NewResultStore()
	m := startStack(t, store)
	ctx := context.Background()

	h, err := m.Submit(ctx, canvas.Sig("fanout", []any{1, 2, 3}))
	require.NoError(t, err)

	rec, err := h.Get(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, h.ID, rec.ID)
	assert.Equal(t, []any{2.0, 4.0, 6.0}, rec.Result)

	repl, err := store.Get(ctx, rec.ForwardID)
	require.NoError(t, err)
	assert.Equal(t, repl.State, rec.State)
	assert.Equal(t, repl.Result, rec.Result)
}

func TestManager_StatusFollowsForward(t *testing.T) {
	store := storemem.NewResultStore()
	m := NewManager(nil, store, nil, nil, zap.NewNop(), "", 0)
	ctx := context.Background()

	_, err := store.Create(ctx, "orig", domain.CreateOptions{TaskName: "fanout"})
	require.NoError(t, err)
	_, _, err = store.Transition(ctx, "orig", domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)
	_, err = store.Create(ctx, "repl", domain.CreateOptions{TaskName: "group", ParentID: "orig"})
	require.NoError(t, err)
	require.NoError(t, store.Forward(ctx, "orig", "repl"))
	_, _, err = store.Transition(ctx, "repl", domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)

	rec, err := m.Handle("orig").PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orig", rec.ID)
	assert.Equal(t, "fanout", rec.TaskName)
	assert.Equal(t, "repl", rec.ForwardID)
	assert.Equal(t, domain.StateStarted, rec.State)
	before := rec.Version

	// a write to the replacement alone changes the view
	_, _, err = store.Transition(ctx, "repl", domain.StateFailure, domain.Outcome{
		Error: &domain.TaskError{Kind: domain.KindHandlerError, Message: "boom"},
	})
	require.NoError(t, err)
	rec, err = m.Status(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, "orig", rec.ID)
	assert.Equal(t, domain.StateFailure, rec.State)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "boom", rec.Error.Message)
	assert.Greater(t, rec.Version, before)

	stored, err := store.Get(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStarted, stored.State)

	// once the original is terminal it is authoritative
	_, _, err = store.Transition(ctx, "orig", domain.StateSuccess, domain.Outcome{Result: 1.0})
	require.NoError(t, err)
	rec, err = m.Status(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, "orig", rec.ID)
	assert.Equal(t, 1.0, rec.Result)
}

// countingStore counts reads and can fail the first few of them.
type countingStore struct {
	ports.ResultStore
	reads     atomic.Int32
	failFirst int32
}

func (s *countingStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	n := s.reads.Add(1)
	if n <= s.failFirst {
		return nil, errors.New("connection reset by peer")
	}
	return s.ResultStore.Get(ctx, id)
}

func stuckRecord(t *testing.T, store ports.ResultStore, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Create(ctx, id, domain.CreateOptions{TaskName: "slow"})
	require.NoError(t, err)
	_, _, err = store.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
	require.NoError(t, err)
}

func TestHandle_TimeoutAfterTwoPolls(t *testing.T) {
	store := &countingStore{ResultStore: storemem.NewResultStore()}
	stuckRecord(t, store, "stuck")
	m := NewManager(nil, store, nil, nil, zap.NewNop(), "", time.Second)

	start := time.Now()
	rec, err := m.Handle("stuck").Get(context.Background(), 2*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.InDelta(t, 2*time.Second, elapsed, float64(300*time.Millisecond))
	assert.Equal(t, int32(2), store.reads.Load())
	require.NotNil(t, rec)
	assert.Equal(t, domain.StateStarted, rec.State)

	after, err := store.ResultStore.Get(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStarted, after.State)
}

func TestHandle_ToleratesTransientReadErrors(t *testing.T) {
	store := &countingStore{ResultStore: storemem.NewResultStore(), failFirst: 2}
	ctx := context.Background()
	stuckRecord(t, store, "r")
	_, _, err := store.Transition(ctx, "r", domain.StateSuccess, domain.Outcome{Result: "ok"})
	require.NoError(t, err)

	m := NewManager(nil, store, nil, nil, zap.NewNop(), "", 0)
	rec, err := m.Handle("r").GetWithInterval(ctx, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Result)
	assert.Equal(t, int32(3), store.reads.Load())
}

func TestManager_Watch(t *testing.T) {
	m := startStack(t, storemem.NewResultStore())
	ctx := context.Background()

	h, err := m.Submit(ctx, canvas.Sig("add", 2, 2))
	require.NoError(t, err)

	var views []*domain.Record
	err = m.Watch(ctx, h.ID, 5*time.Millisecond, func(rec *domain.Record) error {
		views = append(views, rec)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	assert.Equal(t, domain.StateSuccess, last.State)
	assert.Equal(t, 4.0, last.Result)
}

func TestManager_RunWorkflow(t *testing.T) {
	m := startStack(t, storemem.NewResultStore())

	rec, err := m.RunWorkflow(context.Background(), "math chain",
		canvas.Then(canvas.Sig("add", 4, 4), canvas.Sig("double")), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 16.0, rec.Result)
}
