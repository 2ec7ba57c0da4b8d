package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records pipeline counters. A nil *Metrics is a no-op.
type Metrics struct {
	jobs      *prometheus.CounterVec
	rows      *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "employee_import",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Import jobs that reached a terminal status.",
		}, []string{"status"}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "employee_import",
			Subsystem: "rows",
			Name:      "processed_total",
			Help:      "Rows processed broken down by outcome.",
		}, []string{"outcome"}),
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "employee_import",
			Subsystem: "rollback",
			Name:      "requests_total",
			Help:      "Rollback attempts broken down by result.",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "employee_import",
			Subsystem: "jobs",
			Name:      "processing_seconds",
			Help:      "Wall time spent in the processing phase.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
}

func (m *Metrics) jobFinished(status JobStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(status)).Inc()
	if elapsed > 0 {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) rowOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) rollback(result string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
