package drogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "registry",
			Name:      "api_calls_total",
			Help:      "Total number of registry API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btmesh",
			Subsystem: "registry",
			Name:      "api_latency_seconds",
			Help:      "Latency of registry API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"operation"},
	)
)

func init() {
	metrics.Registry.MustRegister(apiCallsTotal, apiLatency)
}

// recordAPICallMetric records a registry API call.
func recordAPICallMetric(operation, result string, latency float64) {
	apiCallsTotal.WithLabelValues(operation, result).Inc()
	apiLatency.WithLabelValues(operation).Observe(latency)
}

func (c *Client) recordAPICall(operation string, err error, latency float64) {
	if c.enableMetrics {
		recordAPICallMetric(operation, result(err), latency)
	}
}
