package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the processor's Prometheus collectors.
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	refresh  *prometheus.CounterVec
}

// NewMetrics registers the processor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_processor_events_total",
			Help: "Transaction events processed, by type and outcome",
		}, []string{"kind", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_processor_event_duration_seconds",
			Help:    "Time spent processing one transaction event",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
		refresh: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_processor_balance_refresh_total",
			Help: "Balance cache refreshes, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeEvent(kind string, outcome Outcome, elapsed time.Duration) {
	m.events.WithLabelValues(kind, string(outcome)).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRefresh(result string) {
	m.refresh.WithLabelValues(result).Inc()
}
