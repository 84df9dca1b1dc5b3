package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/ports"
)

var _ ports.Broker = (*StreamsBroker)(nil)

// StreamsBroker implements ports.Broker using Redis Streams. Each queue is a
// stream read by one consumer group; a delivery is acknowledged only after
// its handler returned, and deliveries left pending longer than claimIdle
// (a crashed or failing worker) are claimed by another consumer.
type StreamsBroker struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	claimIdle     time.Duration
	block         time.Duration
	prefix        string
}

// NewStreamsBroker creates a new Redis Streams broker
func NewStreamsBroker(client *redis.Client, consumerGroup string, claimIdle time.Duration, logger *zap.Logger) *StreamsBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsBroker{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		claimIdle:     claimIdle,
		block:         time.Second,
		prefix:        "canvas:queue:",
	}
}

// WithPrefix returns a copy of the broker using a different stream prefix
func (b *StreamsBroker) WithPrefix(prefix string) *StreamsBroker {
	c := *b
	c.prefix = prefix
	return &c
}

// Publish adds a delivery to the queue's stream
func (b *StreamsBroker) Publish(ctx context.Context, queue string, d *ports.Delivery) error {
	streamKey := b.streamKey(queue)

	data, err := ports.EncodeDelivery(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("delivery published",
		zap.String("task_id", d.ID),
		zap.String("queue", queue),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe joins the consumer group and reads the stream in the background
func (b *StreamsBroker) Subscribe(ctx context.Context, queue, consumer string, handler ports.DeliveryHandler) error {
	streamKey := b.streamKey(queue)

	err := b.client.XGroupCreateMkStream(ctx, streamKey, b.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to queue",
		zap.String("stream", streamKey),
		zap.String("queue", queue),
		zap.String("consumer_group", b.consumerGroup),
		zap.String("consumer", consumer))

	go b.readStream(ctx, streamKey, consumer, handler)

	return nil
}

// Close is a no-op; the Redis client is closed by its owner
func (b *StreamsBroker) Close() error {
	return nil
}

// readStream reads one delivery at a time, stale pending ones first
func (b *StreamsBroker) readStream(ctx context.Context, streamKey, consumer string, handler ports.DeliveryHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msg, ok := b.claimStale(ctx, streamKey, consumer); ok {
			b.processMessage(ctx, streamKey, consumer, msg, handler)
			continue
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: consumer,
			Streams:  []string{streamKey, ">"},
			Count:    1,
			Block:    b.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.processMessage(ctx, streamKey, consumer, message, handler)
			}
		}
	}
}

// claimStale takes over one delivery another consumer left unacknowledged
func (b *StreamsBroker) claimStale(ctx context.Context, streamKey, consumer string) (redis.XMessage, bool) {
	if b.claimIdle <= 0 {
		return redis.XMessage{}, false
	}

	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    b.consumerGroup,
		Consumer: consumer,
		MinIdle:  b.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			b.logger.Warn("failed to claim pending deliveries",
				zap.String("stream", streamKey),
				zap.Error(err))
		}
		return redis.XMessage{}, false
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false
	}

	b.logger.Info("claimed stale delivery",
		zap.String("stream", streamKey),
		zap.String("message_id", msgs[0].ID),
		zap.String("consumer", consumer))
	return msgs[0], true
}

// processMessage handles a single message and acknowledges it on success
func (b *StreamsBroker) processMessage(ctx context.Context, streamKey, consumer string, message redis.XMessage, handler ports.DeliveryHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		b.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		b.ack(ctx, streamKey, message.ID)
		return
	}

	d, err := ports.DecodeDelivery([]byte(data))
	if err != nil {
		b.logger.Error("failed to unmarshal delivery",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		b.ack(ctx, streamKey, message.ID)
		return
	}

	if err := handler(ctx, d); err != nil {
		b.logger.Error("handler error, leaving delivery pending",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.String("task_id", d.ID),
			zap.String("consumer", consumer),
			zap.Error(err))
		return
	}

	b.ack(ctx, streamKey, message.ID)
}

func (b *StreamsBroker) ack(ctx context.Context, streamKey, messageID string) {
	if err := b.client.XAck(ctx, streamKey, b.consumerGroup, messageID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// streamKey returns the Redis stream key for a queue
func (b *StreamsBroker) streamKey(queue string) string {
	return b.prefix + queue
}
