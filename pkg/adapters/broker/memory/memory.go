package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/ports"
)

// ErrClosed is returned when publishing to a closed broker.
var ErrClosed = errors.New("broker closed")

// DefaultMaxRedeliveries is how often a failed delivery is requeued.
const DefaultMaxRedeliveries = 3

var _ ports.Broker = (*Broker)(nil)

type envelope struct {
	data         []byte
	redeliveries int
}

type queue struct {
	items []envelope
	ready chan struct{}
}

// Broker implements ports.Broker with unbounded in-process queues.
// Deliveries are serialized on publish so handlers never share memory with
// the publisher, exactly as with a remote transport.
type Broker struct {
	mu              sync.Mutex
	queues          map[string]*queue
	closed          chan struct{}
	closeOnce       sync.Once
	maxRedeliveries int
	logger          *zap.Logger
	wg              sync.WaitGroup
}

// NewBroker creates a new in-memory broker
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		queues:          make(map[string]*queue),
		closed:          make(chan struct{}),
		maxRedeliveries: DefaultMaxRedeliveries,
		logger:          logger,
	}
}

// Publish encodes and enqueues a delivery
func (b *Broker) Publish(ctx context.Context, queueName string, d *ports.Delivery) error {
	data, err := ports.EncodeDelivery(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.push(queueName, envelope{data: data})

	b.logger.Debug("delivery published",
		zap.String("task_id", d.ID),
		zap.String("queue", queueName))
	return nil
}

// Subscribe starts a consumer goroutine for queueName
func (b *Broker) Subscribe(ctx context.Context, queueName, consumer string, handler ports.DeliveryHandler) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, queueName, consumer, handler)
	}()
	return nil
}

// Len returns the number of queued deliveries
func (b *Broker) Len(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.items)
	}
	return 0
}

// Close stops all consumers and waits for in-flight handlers
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	b.wg.Wait()
	return nil
}

func (b *Broker) queue(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{ready: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) push(name string, env envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(name)
	q.items = append(q.items, env)

	// wake every waiting consumer; the losers go back to sleep
	close(q.ready)
	q.ready = make(chan struct{})
}

// pop returns the next envelope, or a channel closed on the next push.
func (b *Broker) pop(name string) (envelope, bool, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(name)
	if len(q.items) == 0 {
		return envelope{}, false, q.ready
	}
	env := q.items[0]
	q.items[0] = envelope{}
	q.items = q.items[1:]
	return env, true, nil
}

func (b *Broker) consume(ctx context.Context, queueName, consumer string, handler ports.DeliveryHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		default:
		}

		env, ok, ready := b.pop(queueName)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			case <-ready:
				continue
			}
		}

		d, err := ports.DecodeDelivery(env.data)
		if err != nil {
			b.logger.Error("dropping undecodable delivery",
				zap.String("queue", queueName),
				zap.Error(err))
			continue
		}

		if err := handler(ctx, d); err != nil {
			if ctx.Err() != nil {
				// the consumer is leaving; keep the delivery for the next one
				b.push(queueName, env)
				return
			}
			if env.redeliveries >= b.maxRedeliveries {
				b.logger.Error("delivery failed too often, dropping",
					zap.String("task_id", d.ID),
					zap.String("consumer", consumer),
					zap.Int("redeliveries", env.redeliveries),
					zap.Error(err))
				continue
			}
			b.logger.Warn("handler error, requeueing delivery",
				zap.String("task_id", d.ID),
				zap.String("consumer", consumer),
				zap.Error(err))
			env.redeliveries++
			b.push(queueName, env)
		}
	}
}
