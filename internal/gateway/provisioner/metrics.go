package provisioner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Command metrics
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "gateway",
			Name:      "commands_total",
			Help:      "Total number of commands received by command and result",
		},
		[]string{"command", "result"},
	)

	// Provisioning metrics
	provisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "gateway",
			Name:      "provisions_total",
			Help:      "Total number of finished provisionings by result",
		},
		[]string{"result"},
	)

	provisionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "btmesh",
			Subsystem: "gateway",
			Name:      "provisions_pending",
			Help:      "Number of devices with provisioning in flight",
		},
	)

	bindDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btmesh",
			Subsystem: "gateway",
			Name:      "bind_duration_seconds",
			Help:      "Duration of node configuration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2m
		},
		[]string{"result"},
	)

	// Reset metrics
	resetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "gateway",
			Name:      "resets_total",
			Help:      "Total number of node resets by result",
		},
		[]string{"result"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		commandsTotal,
		provisionsTotal,
		provisionsPending,
		bindDuration,
		resetsTotal,
	)
}

// recordCommandMetric records a received command.
func recordCommandMetric(command, result string) {
	commandsTotal.WithLabelValues(command, result).Inc()
}

// recordProvisionMetric records a finished provisioning.
func recordProvisionMetric(result string) {
	provisionsTotal.WithLabelValues(result).Inc()
}

func recordPendingMetric(pending int) {
	provisionsPending.Set(float64(pending))
}

func recordBindMetric(result string, duration time.Duration) {
	bindDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func recordResetMetric(result string) {
	resetsTotal.WithLabelValues(result).Inc()
}

func (s *Sequencer) recordCommand(command, result string) {
	if s.enableMetrics {
		recordCommandMetric(command, result)
	}
}

func (s *Sequencer) recordProvision(result string) {
	if s.enableMetrics {
		recordProvisionMetric(result)
	}
}

func (s *Sequencer) recordPending() {
	if s.enableMetrics {
		recordPendingMetric(s.pending.len())
	}
}

func (s *Sequencer) recordBind(result string, duration time.Duration) {
	if s.enableMetrics {
		recordBindMetric(result, duration)
	}
}

func (s *Sequencer) recordReset(result string) {
	if s.enableMetrics {
		recordResetMetric(result)
	}
}
