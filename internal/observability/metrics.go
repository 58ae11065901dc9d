package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cileserver"

var (
	registerOnce sync.Once

	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Completed request/response exchanges.",
		},
		[]string{"command", "status"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from decoded request to written response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	payloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Payload bytes moved, by direction.",
		},
		[]string{"command", "direction"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open protocol connections.",
		},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Frames rejected or sessions failed, by kind.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			exchanges, exchangeDuration, payloadBytes,
			connectionsActive, protocolErrors,
			httpRequests, httpDuration,
		)
	})
}

// RecordExchange counts one answered request. in is the request payload
// size and out the response payload size.
func RecordExchange(command, status string, in, out int, duration time.Duration) {
	RegisterMetrics()
	exchanges.WithLabelValues(command, status).Inc()
	exchangeDuration.WithLabelValues(command).Observe(duration.Seconds())
	if in > 0 {
		payloadBytes.WithLabelValues(command, "in").Add(float64(in))
	}
	if out > 0 {
		payloadBytes.WithLabelValues(command, "out").Add(float64(out))
	}
}

func RecordProtocolError(kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(kind).Inc()
}

func ConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
