package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tripflow/tripflow/internal/model"
)

// FileLedger stores run entries as JSON files in a directory, one file
// per run. Writes go through a temp file and rename, so a crash never
// leaves a truncated entry behind.
type FileLedger struct {
	dir string
}

// NewFileLedger creates a ledger rooted at dir, creating it if needed.
func NewFileLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{dir: dir}, nil
}

func (l *FileLedger) path(runID string) string {
	return filepath.Join(l.dir, runID+".json")
}

// Save persists the entry.
func (l *FileLedger) Save(ctx context.Context, e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}

	tmp := l.path(e.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path(e.RunID))
}

// Load reads one entry by run ID.
func (l *FileLedger) Load(ctx context.Context, runID string) (*Entry, error) {
	data, err := os.ReadFile(l.path(runID))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt ledger entry %s: %w", runID, err)
	}
	return &e, nil
}

// Find returns all entries for a (category, period), newest first.
func (l *FileLedger) Find(ctx context.Context, category model.Category, period model.Period) ([]*Entry, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	var out []*Entry
	for _, de := range entries {
		if filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, de.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.Category == category && e.Period == period.String() {
			out = append(out, &e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Latest returns the most recent entry for a (category, period), or nil.
func (l *FileLedger) Latest(ctx context.Context, category model.Category, period model.Period) (*Entry, error) {
	entries, err := l.Find(ctx, category, period)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// Close is a no-op for the file backend.
func (l *FileLedger) Close() error { return nil }

var _ Ledger = (*FileLedger)(nil)
