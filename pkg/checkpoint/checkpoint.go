// Package checkpoint records the run ledger: one entry per ingestion run,
// updated as the run moves through its phases. The ledger is how operators
// answer "which months are loaded, and what happened on the last run" —
// correctness never depends on it, because re-running a batch is safe.
package checkpoint

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tripflow/tripflow/internal/model"
)

// Run phases, in lifecycle order.
const (
	PhaseStarted  = "started"
	PhaseDecoded  = "decoded"
	PhaseStaged   = "staged"
	PhasePromoted = "promoted"
	PhaseComplete = "complete"
	PhaseFailed   = "failed"
)

// Entry is one run ledger record.
type Entry struct {
	RunID      string         `json:"run_id"`
	Category   model.Category `json:"category"`
	Period     string         `json:"period"`
	SourceFile string         `json:"source_file"`

	Phase string `json:"phase"`

	RowsRead   int `json:"rows_read"`
	Excluded   int `json:"excluded"`
	Duplicates int `json:"duplicates"`
	Inserted   int `json:"inserted"`
	Skipped    int `json:"skipped"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEntry creates an entry for a run that is about to start.
func NewEntry(category model.Category, period model.Period, sourceFile string) *Entry {
	now := time.Now().UTC()
	return &Entry{
		RunID:      uuid.NewString(),
		Category:   category,
		Period:     period.String(),
		SourceFile: sourceFile,
		Phase:      PhaseStarted,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// SetPhase advances the entry's phase.
func (e *Entry) SetPhase(phase string) {
	e.Phase = phase
	e.UpdatedAt = time.Now().UTC()
	if phase == PhaseComplete || phase == PhaseFailed {
		now := e.UpdatedAt
		e.CompletedAt = &now
	}
}

// Fail marks the entry failed with the run error.
func (e *Entry) Fail(err error) {
	e.Error = err.Error()
	e.SetPhase(PhaseFailed)
}

// Done reports whether the run reached a terminal phase.
func (e *Entry) Done() bool {
	return e.Phase == PhaseComplete || e.Phase == PhaseFailed
}

// Duration returns how long the run took, or has been running.
func (e *Entry) Duration() time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

// Ledger persists run entries.
type Ledger interface {
	// Save writes the entry, replacing any previous version of the
	// same run.
	Save(ctx context.Context, e *Entry) error

	// Load returns the entry for a run ID.
	Load(ctx context.Context, runID string) (*Entry, error)

	// Find returns all entries for a (category, period), newest first.
	Find(ctx context.Context, category model.Category, period model.Period) ([]*Entry, error)

	// Latest returns the most recent entry for a (category, period),
	// or nil when the pair has never been run.
	Latest(ctx context.Context, category model.Category, period model.Period) (*Entry, error)

	Close() error
}
