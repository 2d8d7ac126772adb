// Package schedule triggers recurring ingestion of the current period.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/errors"
)

// IngestFunc ingests one (category, period) when the schedule fires.
type IngestFunc func(ctx context.Context, category model.Category, period model.Period)

// Scheduler runs ingestion on a cron schedule. Each firing ingests the
// current month for every configured category; since ingestion is
// idempotent, frequent firings simply pick up whatever new rows the
// upstream published since the last one.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	categories []model.Category
	ingest     IngestFunc
	log        *logrus.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New builds a scheduler from a standard five-field cron expression.
func New(spec string, categories []model.Category, ingest IngestFunc, log *logrus.Logger) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	if len(categories) == 0 {
		return nil, errors.New(errors.CodeBadConfig, "schedule has no datasets")
	}

	// Validate the expression up front so a bad schedule fails at
	// startup, not at the first firing.
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.Wrap(err, errors.CodeBadConfig, "invalid cron expression").
			WithContext("cron", spec)
	}

	return &Scheduler{
		cron:       cron.New(),
		spec:       spec,
		categories: categories,
		ingest:     ingest,
		log:        log,
		now:        time.Now,
	}, nil
}

// Run starts the schedule and blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.fire(ctx) }); err != nil {
		return errors.Wrap(err, errors.CodeBadConfig, "invalid cron expression").
			WithContext("cron", s.spec)
	}

	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"cron":     s.spec,
		"datasets": s.categories,
	}).Info("schedule started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	period := model.CurrentPeriod(s.now())
	for _, category := range s.categories {
		s.log.WithFields(logrus.Fields{
			"category": category,
			"period":   period.String(),
		}).Info("scheduled ingestion firing")
		s.ingest(ctx, category, period)
	}
}
