package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics records requests handled by a cache node. A nil *RPCMetrics is
// valid and records nothing.
type RPCMetrics struct {
	requests *prometheus.CounterVec   // By op and outcome
	latency  *prometheus.HistogramVec // By op
}

// NewRPCMetrics creates the rpc collectors and registers them with reg
func NewRPCMetrics(reg prometheus.Registerer) (*RPCMetrics, error) {
	m := &RPCMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Store requests handled by this node",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time spent in the store per request",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one handled request
func (m *RPCMetrics) Observe(op string, failed bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(took.Seconds())
}

// Requests exposes the request counter, mainly for tests
func (m *RPCMetrics) Requests(op, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(op, outcome)
}
