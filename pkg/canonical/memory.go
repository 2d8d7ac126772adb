package canonical

import (
	"context"
	"sync"
	"time"

	"github.com/tripflow/tripflow/internal/model"
)

// MemStore implements Store in memory. It is the reference implementation
// of the merge contract and the store used by tests: a mutex makes each
// merge atomic, giving the same set-at-a-time conditional-insert guarantee
// the DuckDB store gets from transactions.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]model.TripRecord
}

// NewMemStore creates an empty in-memory canonical table.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]model.TripRecord)}
}

// EnsureSchema is a no-op.
func (s *MemStore) EnsureSchema(ctx context.Context) error {
	return nil
}

// Merge inserts records whose row key is absent, skipping the rest.
func (s *MemStore) Merge(ctx context.Context, records []model.TripRecord) (MergeReport, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var report MergeReport
	for _, rec := range records {
		if _, exists := s.rows[rec.RowKey]; exists {
			report.Skipped++
			continue
		}
		s.rows[rec.RowKey] = rec
		report.Inserted++
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Count returns the number of canonical rows.
func (s *MemStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Get returns a canonical row by key.
func (s *MemStore) Get(key string) (model.TripRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key]
	return rec, ok
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}

var _ Store = (*MemStore)(nil)
