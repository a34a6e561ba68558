package metricsink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// prometheusMirror exposes the same two signals SyncAdapterMetrics and
// SyncAdapterHealth persist, as Prometheus series cmd/gateway serves on
// /metrics. It never touches gorm; gormSink and prometheusMirror are
// independent observers of the same update, composed in BoundedSink.
type prometheusMirror struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensUsed      *prometheus.CounterVec
	providerHealthy *prometheus.GaugeVec
}

func newPrometheusMirror(namespace string) *prometheusMirror {
	return &prometheusMirror{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_adapter_requests_total",
				Help:      "Total number of completed adapter invocations",
			},
			[]string{"status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_adapter_request_duration_seconds",
				Help:      "Adapter invocation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{},
		),
		tokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_adapter_tokens_total",
				Help:      "Total tokens consumed by adapter invocations",
			},
			[]string{"type"}, // prompt | completion
		),
		providerHealthy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "llm_provider_healthy",
				Help:      "1 if the provider's last health check succeeded, 0 otherwise",
			},
			[]string{"provider_id"},
		),
	}
}
