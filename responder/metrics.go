package responder

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironca",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST requests by command and HTTP status code.",
		}, []string{"command", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ironca",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "REST request latency by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// observe records one request. Unknown command tokens share one label
// value to bound cardinality.
func (m *metrics) observe(token string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "unknown"
	if cmd, ok := ParseCommand(token); ok {
		label = cmd.String()
	}
	m.requests.WithLabelValues(label, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(label).Observe(elapsed.Seconds())
}
