// Package metrics exposes Prometheus metrics about sync cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slate"

// Results of a sync cycle.
const (
	ResultSynced   = "synced"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
	ResultAborted  = "aborted"
	ResultNoChange = "no_change"
)

// Metrics records the outcome of sync cycles. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cyclesTotal       *prometheus.CounterVec
	filesTotal        prometheus.Counter
	transportFailures prometheus.Counter
	cycleDuration     prometheus.Histogram
}

// New registers the sync metrics with `registry`.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles, by result",
		}, []string{"result"}),

		filesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "files_total",
			Help:      "Total number of files handed to the sync target",
		}),

		transportFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "transport_failures_total",
			Help:      "Total number of sync cycles where uploading failed",
		}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles that reached the sync target",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// CycleFinished records a cycle's result.
func (m *Metrics) CycleFinished(result string) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
}

// FilesSynced records that `n` files were uploaded in `duration`.
func (m *Metrics) FilesSynced(n int, duration time.Duration) {
	if m == nil {
		return
	}
	m.filesTotal.Add(float64(n))
	m.cycleDuration.Observe(duration.Seconds())
}

// TransportFailed records a failed upload.
func (m *Metrics) TransportFailed() {
	if m == nil {
		return
	}
	m.transportFailures.Inc()
}
