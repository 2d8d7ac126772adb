package pipeline

import (
	"context"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/extract"
)

// SourceFactory resolves the source file for one (category, period).
type SourceFactory func(category model.Category, period model.Period) (extract.Source, error)

// BackfillReport aggregates the per-period outcomes of a backfill.
type BackfillReport struct {
	Runs     []*Report
	Failed   map[string]error // period string -> error
	Inserted int64
	Skipped  int64
}

// Backfill ingests every period in [from, to] for a category, running up
// to parallelism periods at once. Failed periods do not stop the rest;
// they are collected in the report. A period is an independent batch, so
// partial backfills are re-runnable without double-loading.
func (r *Runner) Backfill(ctx context.Context, category model.Category, from, to model.Period, sources SourceFactory, parallelism int, progress bool) (*BackfillReport, error) {
	periods := model.PeriodRange(from, to)
	if parallelism < 1 {
		parallelism = 1
	}

	var bar *progressbar.ProgressBar
	if progress {
		bar = progressbar.Default(int64(len(periods)), "backfill "+string(category))
	}

	report := &BackfillReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, period := range periods {
		period := period
		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Add(1)
				}
			}()

			src, err := sources(category, period)
			if err == nil {
				var run *Report
				run, err = r.Run(ctx, category, period, src)
				if err == nil {
					mu.Lock()
					report.Runs = append(report.Runs, run)
					report.Inserted += run.Inserted
					report.Skipped += run.Skipped
					mu.Unlock()
					return nil
				}
			}

			mu.Lock()
			report.Failed[period.String()] = err
			mu.Unlock()

			// Only cancellation aborts the remaining periods.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
