package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
)

// maxCASAttempts bounds the WATCH/MULTI retry loop.
const maxCASAttempts = 32

var _ ports.ResultStore = (*ResultStore)(nil)

// ResultStore implements ports.ResultStore using Redis. Records are JSON
// values updated with optimistic WATCH/MULTI transactions. Once a record is
// terminal it expires after ttl; ttl <= 0 keeps records forever.
type ResultStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	prefix string
}

// NewResultStore creates a new Redis result store
func NewResultStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		prefix: "canvas:record:",
	}
}

// WithPrefix returns a copy of the store using a different key prefix
func (s *ResultStore) WithPrefix(prefix string) *ResultStore {
	c := *s
	c.prefix = prefix
	return &c
}

// Create stores a new PENDING record unless the id is taken
func (s *ResultStore) Create(ctx context.Context, id string, opts domain.CreateOptions) (*domain.Record, error) {
	now := time.Now().UTC()
	rec := &domain.Record{
		ID:        id,
		TaskName:  opts.TaskName,
		State:     domain.StatePending,
		ParentID:  opts.ParentID,
		Children:  append([]string(nil), opts.Children...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordExists, id)
	}

	s.logger.Debug("record created",
		zap.String("task_id", id),
		zap.String("task_name", opts.TaskName))

	return rec, nil
}

// Get retrieves a record from Redis
func (s *ResultStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return decode(id, data)
}

// Transition applies a state change inside a WATCH/MULTI transaction
func (s *ResultStore) Transition(ctx context.Context, id string, to domain.State, out domain.Outcome) (*domain.Record, bool, error) {
	var rec *domain.Record
	var changed bool

	err := s.update(ctx, id, func(r *domain.Record) (bool, error) {
		c, err := domain.Apply(r, to, out, time.Now().UTC())
		rec, changed = r, c
		return c, err
	})
	if err != nil {
		return rec, false, err
	}

	if changed {
		s.logger.Debug("record transitioned",
			zap.String("task_id", id),
			zap.String("state", string(to)))
	}
	return rec, changed, nil
}

// Forward links a record to its replacement
func (s *ResultStore) Forward(ctx context.Context, id, to string) error {
	return s.update(ctx, id, func(r *domain.Record) (bool, error) {
		return domain.SetForward(r, to, time.Now().UTC())
	})
}

// Close is a no-op; the Redis client is closed by its owner
func (s *ResultStore) Close() error {
	return nil
}

func (s *ResultStore) update(ctx context.Context, id string, mutate func(*domain.Record) (bool, error)) error {
	key := s.key(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
			}
			return fmt.Errorf("failed to get record: %w", err)
		}

		rec, err := decode(id, data)
		if err != nil {
			return err
		}

		changed, err := mutate(rec)
		if err != nil || !changed {
			return err
		}

		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		var ttl time.Duration
		if rec.State.IsTerminal() && s.ttl > 0 {
			ttl = s.ttl
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("record changed during transaction, retrying",
			zap.String("task_id", id),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("failed to update record %s: too many concurrent writers", id)
}

func decode(id string, data []byte) (*domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// key returns the Redis key for a record
func (s *ResultStore) key(id string) string {
	return s.prefix + id
}
