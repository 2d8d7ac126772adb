package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripflow/tripflow/internal/model"
)

// Metric helpers tolerate a nil metrics set so tests and one-shot CLI
// runs need no registry.

func (r *Runner) metricRowsRead() *prometheus.CounterVec {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RowsRead
}

func (r *Runner) metricRowsExcluded() *prometheus.CounterVec {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RowsExcluded
}

func (r *Runner) metricRowsDuplicate() *prometheus.CounterVec {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RowsDuplicate
}

func (r *Runner) metricRowsInserted() *prometheus.CounterVec {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RowsInserted
}

func (r *Runner) metricRowsSkipped() *prometheus.CounterVec {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RowsSkipped
}

func (r *Runner) count(vec *prometheus.CounterVec, category model.Category, v float64) {
	if vec == nil || v == 0 {
		return
	}
	vec.WithLabelValues(string(category)).Add(v)
}

func (r *Runner) countBatch(category model.Category, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Batches.WithLabelValues(string(category), status).Inc()
}

func (r *Runner) observeMerge(category model.Category, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.MergeDuration.WithLabelValues(string(category)).Observe(d.Seconds())
}
