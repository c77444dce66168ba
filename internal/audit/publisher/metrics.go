package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the event publisher.
type Metrics struct {
	Published       *prometheus.CounterVec
	Failed          prometheus.Counter
	PublishDuration prometheus.Histogram
}

// NewMetrics registers publisher metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_audit_published_total",
			Help: "Audit events accepted by the broker, by routing key",
		}, []string{"routing_key"}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workforce_audit_publish_failures_total",
			Help: "Audit events the broker refused or never received",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "workforce_audit_publish_duration_seconds",
			Help:    "Time from publish call to broker acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncPublished increments the published counter for a routing key.
func (m *Metrics) IncPublished(routingKey string) {
	m.Published.WithLabelValues(routingKey).Inc()
}

// IncFailed increments the failure counter.
func (m *Metrics) IncFailed() {
	m.Failed.Inc()
}

// ObservePublishDuration records one publish round-trip.
func (m *Metrics) ObservePublishDuration(seconds float64) {
	m.PublishDuration.Observe(seconds)
}
