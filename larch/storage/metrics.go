package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet instruments the engine. With no caller-supplied registry the
// metrics live on a private one so that two handles in one process never
// collide on registration.
type metricsSet struct {
	ops       *prometheus.CounterVec
	reindexes prometheus.Counter
	opSeconds *prometheus.HistogramVec
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &metricsSet{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "larch_operations_total",
				Help: "Total number of backend operations",
			},
			[]string{"operation", "status"},
		),
		reindexes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "larch_reindex_total",
				Help: "Total number of full reindex passes",
			},
		),
		opSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "larch_operation_duration_seconds",
				Help:    "Backend operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
	}
}

func (m *metricsSet) observeOp(name string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(name, status).Inc()
	m.opSeconds.WithLabelValues(name).Observe(d.Seconds())
}
