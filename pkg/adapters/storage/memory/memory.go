package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/canvas/pkg/domain"
)

// ResultStore implements ports.ResultStore with an in-memory map.
// Records are cloned on the way in and out so callers never share state
// with the store.
type ResultStore struct {
	records map[string]*domain.Record
	mu      sync.RWMutex
	now     func() time.Time
}

// NewResultStore creates a new in-memory result store
func NewResultStore() *ResultStore {
	return &ResultStore{
		records: make(map[string]*domain.Record),
		now:     time.Now,
	}
}

// Create stores a new PENDING record
func (s *ResultStore) Create(ctx context.Context, id string, opts domain.CreateOptions) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordExists, id)
	}

	now := s.now()
	rec := &domain.Record{
		ID:        id,
		TaskName:  opts.TaskName,
		State:     domain.StatePending,
		ParentID:  opts.ParentID,
		Children:  append([]string(nil), opts.Children...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[id] = rec
	return rec.Clone(), nil
}

// Transition applies a state change under the write lock
func (s *ResultStore) Transition(ctx context.Context, id string, to domain.State, out domain.Outcome) (*domain.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}

	next := rec.Clone()
	changed, err := domain.Apply(next, to, out, s.now())
	if err != nil {
		return rec.Clone(), false, err
	}
	if changed {
		s.records[id] = next
	}
	return next.Clone(), changed, nil
}

// Forward links a record to its replacement
func (s *ResultStore) Forward(ctx context.Context, id, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}
	_, err := domain.SetForward(rec, to, s.now())
	return err
}

// Get returns a copy of the record
func (s *ResultStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}
	return rec.Clone(), nil
}

// Len returns the number of stored records
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op
func (s *ResultStore) Close() error {
	return nil
}
