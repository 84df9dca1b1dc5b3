package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/ports"
)

func TestBroker_CompetingConsumers(t *testing.T) {
	b := NewBroker(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		b.Close()
	}()

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	wg.Add(n)
	handler := func(_ context.Context, d *ports.Delivery) error {
		mu.Lock()
		seen[d.ID]++
		mu.Unlock()
		wg.Done()
		return nil
	}
	for _, c := range []string{"w0", "w1", "w2"} {
		require.NoError(t, b.Subscribe(ctx, "q", c, handler))
	}

	for i := 0; i < n; i++ {
		d := &ports.Delivery{ID: fmt.Sprintf("d-%d", i), Node: canvas.Sig("add", i, 1)}
		require.NoError(t, b.Publish(ctx, "q", d))
	}

	waitOrFail(t, &wg)
	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
	assert.Equal(t, 0, b.Len("q"))
}

func TestBroker_DeliveryIsACopy(t *testing.T) {
	b := NewBroker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		b.Close()
	}()

	input := []any{1.0, 2.0}
	got := make(chan *ports.Delivery, 1)
	require.NoError(t, b.Subscribe(ctx, "q", "w", func(_ context.Context, d *ports.Delivery) error {
		got <- d
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "q", &ports.Delivery{ID: "x", Node: canvas.Sig("sum_numbers"), Input: input, HasInput: true}))
	input[0] = 99.0

	select {
	case d := <-got:
		assert.Equal(t, []any{1.0, 2.0}, d.Input)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not received")
	}
}

func TestBroker_RequeuesOnHandlerError(t *testing.T) {
	b := NewBroker(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		b.Close()
	}()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, b.Subscribe(ctx, "q", "w", func(context.Context, *ports.Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "q", &ports.Delivery{ID: "x", Node: canvas.Sig("add")}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not redelivered")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBroker_Closed(t *testing.T) {
	b := NewBroker(nil)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "q", &ports.Delivery{ID: "x", Node: canvas.Sig("add")}), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "q", "w", nil), ErrClosed)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}

func TestBroker_KeepsDeliveryWhenConsumerStops(t *testing.T) {
	b := NewBroker(zaptest.NewLogger(t))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var calls atomic.Int32
	handler := func(ctx context.Context, _ *ports.Delivery) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	require.NoError(t, b.Subscribe(ctx, "q", "w0", handler))
	require.NoError(t, b.Publish(context.Background(), "q", &ports.Delivery{ID: "held", Node: canvas.Sig("add")}))

	<-started
	cancel()

	require.Eventually(t, func() bool { return b.Len("q") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
