package main

import (
	"context"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/canonical"
	"github.com/tripflow/tripflow/pkg/checkpoint"
	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/extract"
	"github.com/tripflow/tripflow/pkg/pipeline"
	"github.com/tripflow/tripflow/pkg/stage"
	"github.com/tripflow/tripflow/pkg/storage"
	"github.com/tripflow/tripflow/pkg/storage/s3"
	"github.com/tripflow/tripflow/pkg/telemetry"
)

// app wires the configured backends together for one command invocation.
type app struct {
	cfg     *config.Config
	db      *canonical.DB
	stager  *stage.Stager
	ledger  checkpoint.Ledger
	metrics *telemetry.Metrics
	runner  *pipeline.Runner
}

// duckStores adapts the DuckDB handle to the runner's store lookup.
type duckStores struct {
	db *canonical.DB
}

func (d duckStores) Store(category model.Category) canonical.Store {
	return d.db.Store(category)
}

// allCategories lists the datasets every command operates on.
var allCategories = []model.Category{model.CategoryYellow, model.CategoryGreen}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := canonical.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	ledger, err := newLedger(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New()
	}

	stager := stage.New(objects, cfg.Staging.Prefix)
	runner := pipeline.New(pipeline.Config{
		Policy:    extract.ParseErrorPolicy(cfg.Ingest.ErrorPolicy),
		MaxErrors: cfg.Ingest.MaxErrors,
		Retries:   cfg.Ingest.Retries,
		Backoff:   cfg.Ingest.RetryBackoff,
	}, duckStores{db}, stager, ledger, metrics, log)

	return &app{
		cfg:     cfg,
		db:      db,
		stager:  stager,
		ledger:  ledger,
		metrics: metrics,
		runner:  runner,
	}, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Staging.Backend {
	case "local":
		return storage.NewLocal(cfg.Staging.Dir)
	case "s3":
		return s3.New(ctx, s3.Config{
			Region:       cfg.Staging.Region,
			Bucket:       cfg.Staging.Bucket,
			Endpoint:     cfg.Staging.Endpoint,
			UsePathStyle: cfg.Staging.UsePathStyle,
		})
	default:
		return nil, errors.New(errors.CodeBadConfig, "unknown staging backend "+cfg.Staging.Backend)
	}
}

func newLedger(cfg *config.Config) (checkpoint.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "file":
		return checkpoint.NewFileLedger(cfg.Ledger.Dir)
	case "redis":
		rc := checkpoint.DefaultRedisConfig(cfg.Ledger.RedisAddress)
		rc.Password = cfg.Ledger.RedisPassword
		rc.Database = cfg.Ledger.RedisDatabase
		if cfg.Ledger.RedisTTL > 0 {
			rc.TTL = cfg.Ledger.RedisTTL
		}
		return checkpoint.NewRedisLedger(rc)
	default:
		return nil, errors.New(errors.CodeBadConfig, "unknown ledger backend "+cfg.Ledger.Backend)
	}
}

// ensureSchemas creates missing canonical tables. Commands that write
// call this once at startup.
func (a *app) ensureSchemas(ctx context.Context) error {
	for _, category := range allCategories {
		if err := a.db.Store(category).EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// requireSchemas fails when a canonical table is absent. Read-only
// commands use this so that inspecting an unprovisioned database does
// not create schema as a side effect.
func (a *app) requireSchemas(ctx context.Context) error {
	for _, category := range allCategories {
		if err := a.db.Store(category).RequireSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics starts the metrics endpoint when telemetry is enabled.
func (a *app) serveMetrics(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Telemetry.Listen, log); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
