package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tripflow/tripflow/pkg/extract"
	"github.com/tripflow/tripflow/pkg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a landing directory and ingest arrivals",
	Long: `Watch the configured landing directory and ingest each
<category>_tripdata_<YYYY-MM>.csv[.gz] file once its writes settle.
Files already present at startup are ingested first.

A file rewritten in place is ingested again; only rows new to the
canonical table land, so repeated deliveries are harmless.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&sourceDirFlag, "dir", "", "Landing directory (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := sourceDirFlag
	if dir == "" {
		dir = cfg.Watch.Dir
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.ensureSchemas(ctx); err != nil {
		return err
	}
	a.serveMetrics(ctx)

	w, err := watch.New(dir, cfg.Watch.SettleDelay, log)
	if err != nil {
		return err
	}
	w.OnFile = func(ctx context.Context, t watch.Target) {
		if _, err := a.runner.Run(ctx, t.Category, t.Period, &extract.FileSource{Path: t.Path}); err != nil {
			log.WithError(err).WithField("file", t.Path).Error("ingestion failed")
		}
	}

	log.WithField("dir", dir).Info("watching landing directory")
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
