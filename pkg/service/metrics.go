package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/entrhq/rednote/pkg/types"
)

// Metrics records operation counts, durations and event drops.
// A nil *Metrics records nothing.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationsRunning *prometheus.GaugeVec
	eventsDropped     *prometheus.CounterVec
}

// NewMetrics registers the service metrics with reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of completed operations by outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		operationsRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operations_running",
				Help:      "Number of operations currently running",
			},
			[]string{"operation"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events discarded because a task's event buffer was full",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) started(op string) {
	if m == nil {
		return
	}
	m.operationsRunning.WithLabelValues(op).Inc()
}

func (m *Metrics) finished(op string, status types.Status, elapsed time.Duration, dropped int64) {
	if m == nil {
		return
	}
	m.operationsRunning.WithLabelValues(op).Dec()
	m.operationsTotal.WithLabelValues(op, status.String()).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if dropped > 0 {
		m.eventsDropped.WithLabelValues(op).Add(float64(dropped))
	}
}
