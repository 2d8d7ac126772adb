// Package pipeline drives a batch through the ingestion lifecycle:
// decode, fingerprint, stage, promote, release. Every run is recorded in
// the run ledger, and every step is safe to repeat, so a failed run is
// retried by simply running it again.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/canonical"
	"github.com/tripflow/tripflow/pkg/checkpoint"
	"github.com/tripflow/tripflow/pkg/dedup"
	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/extract"
	"github.com/tripflow/tripflow/pkg/fingerprint"
	"github.com/tripflow/tripflow/pkg/stage"
	"github.com/tripflow/tripflow/pkg/telemetry"
)

// Stores hands out the canonical store for a category.
type Stores interface {
	Store(category model.Category) canonical.Store
}

// Config tunes runner behavior.
type Config struct {
	// Policy applied to malformed source rows.
	Policy extract.ErrorPolicy

	// MaxErrors aborts decoding after this many excluded rows (0 = no cap).
	MaxErrors int

	// Retries is the number of additional attempts for retryable
	// stage and merge failures.
	Retries int

	// Backoff is the base delay between attempts, doubled each retry.
	Backoff time.Duration
}

// Runner executes ingestion runs.
type Runner struct {
	cfg     Config
	stores  Stores
	stager  *stage.Stager
	ledger  checkpoint.Ledger
	metrics *telemetry.Metrics
	log     *logrus.Logger
}

// New creates a runner. metrics may be nil.
func New(cfg Config, stores Stores, stager *stage.Stager, ledger checkpoint.Ledger, metrics *telemetry.Metrics, log *logrus.Logger) *Runner {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Runner{
		cfg:     cfg,
		stores:  stores,
		stager:  stager,
		ledger:  ledger,
		metrics: metrics,
		log:     log,
	}
}

// Report summarizes one completed run.
type Report struct {
	RunID      string
	Category   model.Category
	Period     model.Period
	SourceFile string

	RowsRead   int
	Excluded   int
	Duplicates int
	Inserted   int64
	Skipped    int64

	Duration time.Duration
}

// Run ingests one source file into the canonical table for (category,
// period). Re-running with the same source is a no-op on the canonical
// table beyond what the first run inserted.
func (r *Runner) Run(ctx context.Context, category model.Category, period model.Period, src extract.Source) (*Report, error) {
	entry := checkpoint.NewEntry(category, period, src.Name())
	log := r.log.WithFields(logrus.Fields{
		"run":      entry.RunID,
		"category": category,
		"period":   period.String(),
		"source":   src.Name(),
	})
	log.Info("run started")
	r.saveEntry(ctx, entry)

	report, err := r.run(ctx, category, period, src, entry, log)
	if err != nil {
		entry.Fail(err)
		r.saveEntry(ctx, entry)
		r.countBatch(category, "failed")
		log.WithError(err).Error("run failed")
		return nil, err
	}

	entry.SetPhase(checkpoint.PhaseComplete)
	r.saveEntry(ctx, entry)
	r.countBatch(category, "complete")
	log.WithFields(logrus.Fields{
		"rows_read":  report.RowsRead,
		"excluded":   report.Excluded,
		"duplicates": report.Duplicates,
		"inserted":   report.Inserted,
		"skipped":    report.Skipped,
		"duration":   report.Duration,
	}).Info("run complete")
	return report, nil
}

func (r *Runner) run(ctx context.Context, category model.Category, period model.Period, src extract.Source, entry *checkpoint.Entry, log *logrus.Entry) (*Report, error) {
	start := time.Now()

	// Decode.
	decoder, err := extract.NewDecoder(category, extract.Options{
		Policy:    r.cfg.Policy,
		MaxErrors: int64(r.cfg.MaxErrors),
		OnSkip: func(re model.RowError) {
			log.WithField("row", re.Row).Debug(re.String())
		},
	})
	if err != nil {
		return nil, err
	}

	reader, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	batch, err := decoder.Decode(ctx, reader, period, src.Name())
	reader.Close()
	if err != nil {
		return nil, err
	}
	if len(batch.Records) == 0 {
		return nil, errors.New(errors.CodeEmptyBatch, "source yielded no usable rows").
			WithContext("source", src.Name())
	}

	fingerprint.Apply(batch)

	entry.RowsRead = len(batch.Records) + len(batch.Excluded)
	entry.Excluded = len(batch.Excluded)
	entry.SetPhase(checkpoint.PhaseDecoded)
	r.saveEntry(ctx, entry)
	r.count(r.metricRowsRead(), category, float64(entry.RowsRead))
	r.count(r.metricRowsExcluded(), category, float64(entry.Excluded))

	// Stage.
	var handle stage.Handle
	err = r.withRetry(ctx, log, "stage", func() error {
		var serr error
		handle, serr = r.stager.Stage(ctx, batch)
		return serr
	})
	if err != nil {
		return nil, err
	}
	entry.SetPhase(checkpoint.PhaseStaged)
	r.saveEntry(ctx, entry)
	log.WithField("key", handle.Key).Debug("batch staged")

	// Promote: read back from staging, collapse duplicates, merge.
	staged, err := r.stager.Open(ctx, handle)
	if err != nil {
		return nil, err
	}
	dstats := dedup.Batch(staged)
	r.count(r.metricRowsDuplicate(), category, float64(dstats.Duplicates))

	store := r.stores.Store(category)
	var mr canonical.MergeReport
	err = r.withRetry(ctx, log, "merge", func() error {
		var merr error
		mr, merr = store.Merge(ctx, staged.Records)
		return merr
	})
	if err != nil {
		// The staging artifact is left in place for inspection; its
		// deterministic key means the next run overwrites it.
		return nil, err
	}
	entry.Duplicates = dstats.Duplicates
	entry.Inserted = int(mr.Inserted)
	entry.Skipped = int(mr.Skipped)
	entry.SetPhase(checkpoint.PhasePromoted)
	r.saveEntry(ctx, entry)
	r.count(r.metricRowsInserted(), category, float64(mr.Inserted))
	r.count(r.metricRowsSkipped(), category, float64(mr.Skipped))
	r.observeMerge(category, mr.Duration)

	// Release staging only after a successful promote.
	if err := r.stager.Release(ctx, handle); err != nil {
		// The batch is already merged; a leftover artifact is an
		// inconvenience, not a correctness problem.
		log.WithError(err).Warn("failed to release staging artifact")
	}

	return &Report{
		RunID:      entry.RunID,
		Category:   category,
		Period:     period,
		SourceFile: src.Name(),
		RowsRead:   entry.RowsRead,
		Excluded:   entry.Excluded,
		Duplicates: dstats.Duplicates,
		Inserted:   mr.Inserted,
		Skipped:    mr.Skipped,
		Duration:   time.Since(start),
	}, nil
}

// withRetry runs fn, retrying retryable failures with doubling backoff.
// Fatal and input errors fail immediately.
func (r *Runner) withRetry(ctx context.Context, log *logrus.Entry, op string, fn func() error) error {
	backoff := r.cfg.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || attempt >= r.cfg.Retries {
			return err
		}
		log.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warn("retryable failure, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (r *Runner) saveEntry(ctx context.Context, e *checkpoint.Entry) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Save(ctx, e); err != nil {
		// Ledger trouble never fails a run.
		r.log.WithError(err).WithField("run", e.RunID).Warn("failed to save ledger entry")
	}
}
