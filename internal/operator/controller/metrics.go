package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Sweep metrics
	sweepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "operator",
			Name:      "sweep_total",
			Help:      "Total number of registry sweeps by result",
		},
		[]string{"application", "result"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "btmesh",
			Subsystem: "operator",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of registry sweeps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"application"},
	)

	// Device metrics
	devicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "btmesh",
			Subsystem: "operator",
			Name:      "devices",
			Help:      "Number of mesh devices by provisioning state, as seen by the last sweep",
		},
		[]string{"application", "state"},
	)

	// Command metrics
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "operator",
			Name:      "commands_total",
			Help:      "Total number of commands sent to the gateway by command and result",
		},
		[]string{"application", "command", "result"},
	)

	// Event metrics
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btmesh",
			Subsystem: "operator",
			Name:      "events_total",
			Help:      "Total number of inbound events by subject and result",
		},
		[]string{"application", "subject", "result"},
	)
)

func init() {
	// Register metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		sweepTotal,
		sweepDuration,
		devicesTotal,
		commandsTotal,
		eventsTotal,
	)
}

// recordSweepMetric records a sweep result.
func recordSweepMetric(application, result string, duration float64) {
	sweepTotal.WithLabelValues(application, result).Inc()
	sweepDuration.WithLabelValues(application).Observe(duration)
}

// recordDeviceCountsMetric records the number of devices per state.
func recordDeviceCountsMetric(application string, counts map[string]int) {
	for _, state := range []string{"provisioning", "provisioned", "reset", "deleting"} {
		devicesTotal.WithLabelValues(application, state).Set(float64(counts[state]))
	}
}

// recordCommandMetric records a command sent to the gateway.
func recordCommandMetric(application, command, result string) {
	commandsTotal.WithLabelValues(application, command, result).Inc()
}

// recordEventMetric records an inbound event.
func recordEventMetric(application, subject, result string) {
	eventsTotal.WithLabelValues(application, subject, result).Inc()
}

// Metrics helper methods that check enableMetrics before recording.

func (r *DeviceReconciler) recordSweep(result string, duration float64) {
	if r.enableMetrics {
		recordSweepMetric(r.application, result, duration)
	}
}

func (r *DeviceReconciler) recordDeviceCounts(counts map[string]int) {
	if r.enableMetrics {
		recordDeviceCountsMetric(r.application, counts)
	}
}

func (r *DeviceReconciler) recordCommand(command, result string) {
	if r.enableMetrics {
		recordCommandMetric(r.application, command, result)
	}
}

func (r *DeviceReconciler) recordEvent(subject, result string) {
	if r.enableMetrics {
		recordEventMetric(r.application, subject, result)
	}
}
