package ports

import (
	"context"
)

// DefaultQueue is used when a signature names no queue.
const DefaultQueue = "canvas"

// DeliveryHandler processes one delivery. Returning an error leaves the
// delivery unacknowledged where the backend supports it.
type DeliveryHandler func(ctx context.Context, d *Delivery) error

// Broker moves deliveries from dispatchers to workers. Every subscriber of
// a queue competes for its deliveries; each delivery is handled once unless
// redelivered after a failure.
type Broker interface {
	Publish(ctx context.Context, queue string, d *Delivery) error

	// Subscribe starts consuming queue in the background until ctx is done.
	// Deliveries are handed to handler one at a time.
	Subscribe(ctx context.Context, queue, consumer string, handler DeliveryHandler) error

	Close() error
}
