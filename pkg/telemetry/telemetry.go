// Package telemetry exposes Prometheus metrics for the ingestion engine.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the engine's Prometheus collectors. Labels carry the
// category so yellow and green loads can be graphed separately.
type Metrics struct {
	RowsRead      *prometheus.CounterVec
	RowsExcluded  *prometheus.CounterVec
	RowsDuplicate *prometheus.CounterVec
	RowsInserted  *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec
	Batches       *prometheus.CounterVec
	MergeDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metric set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		RowsRead: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_rows_read_total",
			Help: "Rows read from source files.",
		}, []string{"category"}),
		RowsExcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_rows_excluded_total",
			Help: "Rows excluded during decoding.",
		}, []string{"category"}),
		RowsDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_rows_duplicate_total",
			Help: "Rows collapsed by intra-batch deduplication.",
		}, []string{"category"}),
		RowsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_rows_inserted_total",
			Help: "Rows inserted into the canonical table.",
		}, []string{"category"}),
		RowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_rows_skipped_total",
			Help: "Rows skipped by merge because their fingerprint already existed.",
		}, []string{"category"}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripflow_batches_total",
			Help: "Ingestion runs by outcome.",
		}, []string{"category", "status"}),
		MergeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripflow_merge_duration_seconds",
			Help:    "Canonical merge transaction duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"category"}),

		registry: reg,
	}
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server until the context is canceled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
