package authkit

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements MetricsRecorder on a Prometheus counter vector
// keyed by auth event name.
type PrometheusMetrics struct {
	authEvents *prometheus.CounterVec
}

// NewPrometheusMetrics constructs the recorder and registers its collectors
// with the given registry.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	recorder := &PrometheusMetrics{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_auth_events_total",
			Help: "Auth lifecycle events by name.",
		}, []string{"event"}),
	}
	registry.MustRegister(recorder.authEvents)
	return recorder
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.authEvents.WithLabelValues(event).Inc()
}

// MetricsHandler returns the scrape handler for the given gatherer.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
