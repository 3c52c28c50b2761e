package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "riceprobe"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the metrics endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	probeCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "commands_total",
			Help:      "Adapter commands issued, by opcode and outcome.",
		},
		[]string{"opcode", "outcome"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "command_duration_seconds",
			Help:      "Adapter command round trip in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		},
		[]string{"opcode"},
	)
	transferItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "transfer_items_total",
			Help:      "Register transfer items, split into completed and not executed.",
		},
		[]string{"result"},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "openocd",
			Name:      "commands_total",
			Help:      "Debug server control socket commands, by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "openocd",
			Name:      "command_duration_seconds",
			Help:      "Debug server control socket round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"verb"},
	)
	rttExpectations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtt",
			Name:      "expectations_total",
			Help:      "RTT stream expectations, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	rttBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtt",
			Name:      "bytes_total",
			Help:      "Bytes moved over the RTT bridge.",
		},
		[]string{"direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			probeCommands, probeDuration, transferItems,
			controlCommands, controlDuration,
			rttExpectations, rttBytes,
		)
	})
}

// Outcome labels a finished operation for the counters above.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordProbeCommand(opcode, outcome string, duration time.Duration) {
	RegisterMetrics()
	probeCommands.WithLabelValues(opcode, outcome).Inc()
	probeDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

func RecordTransferItems(completed, skipped int) {
	RegisterMetrics()
	transferItems.WithLabelValues("completed").Add(float64(completed))
	transferItems.WithLabelValues("not_executed").Add(float64(skipped))
}

func RecordControlCommand(verb, outcome string, duration time.Duration) {
	RegisterMetrics()
	controlCommands.WithLabelValues(verb, outcome).Inc()
	controlDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

func RecordRTTExpect(kind, outcome string) {
	RegisterMetrics()
	rttExpectations.WithLabelValues(kind, outcome).Inc()
}

func RecordRTTBytes(direction string, n int) {
	RegisterMetrics()
	rttBytes.WithLabelValues(direction).Add(float64(n))
}
