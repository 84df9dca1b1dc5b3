package ports

import (
	"context"

	"github.com/aescanero/canvas/pkg/domain"
)

// ResultStore persists one record per task graph node.
//
// Transition must be atomic per record: implementations run domain.Apply
// inside a compare-and-set section so that concurrent writers (a retry
// racing a late ack, two group members finishing together) cannot break
// the terminal-state invariant.
type ResultStore interface {
	// Create stores a new PENDING record. It returns domain.ErrRecordExists
	// when the id is taken.
	Create(ctx context.Context, id string, opts domain.CreateOptions) (*domain.Record, error)

	// Transition moves the record to state with the given outcome. changed
	// is false for benign no-ops.
	Transition(ctx context.Context, id string, to domain.State, out domain.Outcome) (rec *domain.Record, changed bool, err error)

	// Forward points a non-terminal record at the record replacing it.
	Forward(ctx context.Context, id, to string) error

	// Get returns a copy of the record or domain.ErrRecordNotFound.
	Get(ctx context.Context, id string) (*domain.Record, error)

	// Close releases backend resources.
	Close() error
}
