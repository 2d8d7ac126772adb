// Package watch monitors a landing directory and ingests trip files as
// they arrive.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tripflow/tripflow/internal/model"
)

// Landed file names look like yellow_tripdata_2019-01.csv, optionally
// gzipped.
var fileNamePattern = regexp.MustCompile(`^(yellow|green)_tripdata_(\d{4}-\d{2})\.csv(\.gz)?$`)

// Target describes a landed file ready for ingestion.
type Target struct {
	Path     string
	Category model.Category
	Period   model.Period
}

// ParseFileName maps a landed file name to its category and period.
// Files that do not match the naming convention are not ingestible.
func ParseFileName(name string) (model.Category, model.Period, bool) {
	m := fileNamePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", model.Period{}, false
	}
	category, err := model.ParseCategory(m[1])
	if err != nil {
		return "", model.Period{}, false
	}
	period, err := model.ParsePeriod(m[2])
	if err != nil {
		return "", model.Period{}, false
	}
	return category, period, true
}

// Watcher monitors a landing directory for trip files.
type Watcher struct {
	dir         string
	settleDelay time.Duration
	log         *logrus.Logger

	// OnFile is invoked for each file once its writes settle.
	OnFile func(ctx context.Context, t Target)

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]time.Time
}

// New creates a watcher for dir. settleDelay is how long a file must go
// without writes before it is considered fully landed.
func New(dir string, settleDelay time.Duration, log *logrus.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Watcher{
		dir:         dir,
		settleDelay: settleDelay,
		log:         log,
		watcher:     fsWatcher,
		pending:     make(map[string]*time.Timer),
		seen:        make(map[string]time.Time),
	}, nil
}

// Run watches the landing directory until the context is canceled.
// Files already present at startup are picked up first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	defer w.watcher.Close()

	w.scanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

// scanExisting queues files that landed before the watcher started.
func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.WithError(err).Warn("failed to scan landing directory")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.schedule(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// schedule (re)arms the settle timer for a path. Each write pushes the
// timer back, so the callback fires only after the file stops growing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	category, period, ok := ParseFileName(path)
	if !ok {
		if !strings.HasPrefix(filepath.Base(path), ".") {
			w.log.WithField("file", filepath.Base(path)).Debug("ignoring file outside naming convention")
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.fire(ctx, Target{Path: path, Category: category, Period: period})
	})
}

func (w *Watcher) fire(ctx context.Context, t Target) {
	stat, err := os.Stat(t.Path)
	if err != nil {
		// Removed between settle and fire.
		return
	}

	// Skip files already handled at this modification time; an ingest
	// of the same bytes would be a no-op anyway, this just saves work.
	w.mu.Lock()
	last, handled := w.seen[t.Path]
	if handled && stat.ModTime().Equal(last) {
		w.mu.Unlock()
		return
	}
	w.seen[t.Path] = stat.ModTime()
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{
		"file":     filepath.Base(t.Path),
		"category": t.Category,
		"period":   t.Period.String(),
	}).Info("file landed")

	if w.OnFile != nil {
		w.OnFile(ctx, t)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
