package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit consumer worker.
type Metrics struct {
	Consumed        prometheus.Counter
	Persisted       prometheus.Counter
	Duplicates      prometheus.Counter
	Malformed       prometheus.Counter
	PersistFailures prometheus.Counter
	ProcessDuration prometheus.Histogram
	Consuming       prometheus.Gauge
}

// NewMetrics registers worker metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Consumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_consumed_total",
			Help: "Deliveries received from the broker",
		}),
		Persisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_persisted_total",
			Help: "Audit records written to the store",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_duplicates_total",
			Help: "Redeliveries short-circuited by the dedup cache",
		}),
		Malformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_malformed_total",
			Help: "Messages skipped because they could not be decoded",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_persist_failures_total",
			Help: "Store write failures (deliveries retried)",
		}),
		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "workforce_audit_process_duration_seconds",
			Help:    "Time from delivery to acknowledged persistence",
			Buckets: prometheus.DefBuckets,
		}),
		Consuming: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "workforce_audit_worker_consuming",
			Help: "1 while the worker is in the consuming state",
		}),
	}
}

func (m *Metrics) IncConsumed()        { m.Consumed.Inc() }
func (m *Metrics) IncPersisted()       { m.Persisted.Inc() }
func (m *Metrics) IncDuplicates()      { m.Duplicates.Inc() }
func (m *Metrics) IncMalformed()       { m.Malformed.Inc() }
func (m *Metrics) IncPersistFailures() { m.PersistFailures.Inc() }

// ObserveProcessDuration records one end-to-end message handling.
func (m *Metrics) ObserveProcessDuration(seconds float64) {
	m.ProcessDuration.Observe(seconds)
}

// SetState reflects the lifecycle state on the consuming gauge.
func (m *Metrics) SetState(s State) {
	if s == StateConsuming {
		m.Consuming.Set(1)
		return
	}
	m.Consuming.Set(0)
}
