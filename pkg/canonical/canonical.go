// Package canonical defines the canonical trip table contract and its
// storage implementations.
//
// The canonical table is the durable, deduplicated destination of every
// merged batch. It is keyed by row fingerprint and grows by insertion
// only: a merge inserts rows whose key is absent and leaves matched rows
// untouched, so re-merging any batch is always safe.
package canonical

import (
	"context"
	"time"

	"github.com/tripflow/tripflow/internal/model"
)

// MergeReport records the outcome of one merge.
type MergeReport struct {
	// Inserted is the number of rows newly added to the canonical table.
	Inserted int64
	// Skipped is the number of incoming rows whose key was already present.
	Skipped int64
	// Duration of the merge operation.
	Duration time.Duration
}

// Store is one canonical trip table.
//
// Merge must be atomic and evaluated against a single consistent snapshot:
// concurrent merges of disjoint key sets both land in full, and an
// interrupted merge leaves either zero or all of the batch's new rows.
// Implementations surface concurrent-writer conflicts as retryable errors;
// a fresh Merge call is always a safe retry.
type Store interface {
	// EnsureSchema creates the table if it does not exist. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Merge performs the insert-only set union by row key. Incoming
	// records must already be fingerprinted and intra-batch deduplicated.
	Merge(ctx context.Context, records []model.TripRecord) (MergeReport, error)

	// Count returns the number of canonical rows.
	Count(ctx context.Context) (int64, error)

	Close() error
}
