package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdframe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cmdframe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdframe",
			Subsystem: "listener",
			Name:      "sessions_accepted_total",
			Help:      "Connections accepted by the listener.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cmdframe",
			Subsystem: "listener",
			Name:      "sessions_active",
			Help:      "Sessions whose read loop is still running.",
		},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdframe",
			Subsystem: "session",
			Name:      "bytes_received_total",
			Help:      "Bytes read from client connections.",
		},
	)
	commandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdframe",
			Subsystem: "decoder",
			Name:      "commands_dispatched_total",
			Help:      "Validated commands handed to the sink.",
		},
		[]string{"command"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsAccepted,
			sessionsActive,
			bytesReceived,
			commandsDispatched,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsAccepted.Inc()
	sessionsActive.Inc()
}

func RecordSessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordBytesReceived(n int) {
	RegisterMetrics()
	bytesReceived.Add(float64(n))
}

func RecordCommand(command string) {
	RegisterMetrics()
	commandsDispatched.WithLabelValues(command).Inc()
}
