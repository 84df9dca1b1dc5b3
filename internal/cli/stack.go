package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
	"github.com/aescanero/canvas/internal/tasks"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	"github.com/aescanero/canvas/pkg/mathapi"
	"github.com/aescanero/canvas/pkg/task"
)

// localStack is an in-process broker, result store and worker pool running
// the built-in tasks.
type localStack struct {
	manager *orchestrator.Manager
	pool    *workers.Pool
	broker  *brokermem.Broker
}

func startLocalStack(mathURL string, workerCount int, interval time.Duration, logger *zap.Logger) (*localStack, error) {
	deps := tasks.Deps{}
	if mathURL != "" {
		deps.Math = mathapi.NewClient(mathURL, nil)
	}

	reg := task.NewRegistry()
	if err := tasks.Register(reg, deps); err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	broker := brokermem.NewBroker(logger)
	store := storemem.NewResultStore()
	exec := workers.NewExecutor(reg, store, broker, nil, logger, workers.ExecutorConfig{})
	pool := workers.NewPool(workerCount, nil, broker, exec, nil, logger, 0)
	if err := pool.Start(); err != nil {
		broker.Close()
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	return &localStack{
		manager: orchestrator.NewManager(broker, store, nil, orchestrator.NewValidator(reg), logger, "", interval),
		pool:    pool,
		broker:  broker,
	}, nil
}

func (s *localStack) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.pool.Shutdown(ctx)
	_ = s.broker.Close()
}
