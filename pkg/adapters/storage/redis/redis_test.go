package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/canvas/pkg/adapters/storage/storagetest"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
)

// newTestClient connects to CANVAS_TEST_REDIS_ADDR or skips the test.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CANVAS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CANVAS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return client
}

func newTestStore(t *testing.T, ttl time.Duration) *ResultStore {
	client := newTestClient(t)
	s := NewResultStore(client, ttl, zaptest.NewLogger(t)).
		WithPrefix("canvas-test:" + uuid.NewString() + ":")
	t.Cleanup(func() { client.Close() })
	return s
}

func TestResultStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) ports.ResultStore {
		return newTestStore(t, time.Hour)
	})
}

func TestResultStore_TTLAfterTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	_, err := s.Create(ctx, "r", domain.CreateOptions{})
	require.NoError(t, err)

	ttl, err := s.client.TTL(ctx, s.key("r")).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	_, _, err = s.Transition(ctx, "r", domain.StateFailure, domain.Outcome{Error: &domain.TaskError{Kind: "X", Message: "y"}})
	require.NoError(t, err)

	ttl, err = s.client.TTL(ctx, s.key("r")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
