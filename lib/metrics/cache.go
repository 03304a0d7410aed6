package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache operations counted by CacheMetrics
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CachePull     = "pull"
	CachePush     = "push"
	CacheConflict = "conflict"
	CacheCASRetry = "cas_retry"
	CacheExhaust  = "cas_exhausted"
	CacheError    = "error"
)

// CacheMetrics counts version-checked cache operations. A nil *CacheMetrics is
// valid and records nothing.
type CacheMetrics struct {
	ops *prometheus.CounterVec // By cache and op
}

// NewCacheMetrics creates the cache counters and registers them with reg
func NewCacheMetrics(reg prometheus.Registerer) (*CacheMetrics, error) {
	m := &CacheMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Version-checked cache operations by outcome",
		}, []string{"cache", "op"}),
	}
	if err := reg.Register(m.ops); err != nil {
		return nil, err
	}
	return m, nil
}

// Inc counts one operation of the named cache
func (m *CacheMetrics) Inc(cache, op string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(cache, op).Inc()
}

// Counter exposes the underlying vector, mainly for tests
func (m *CacheMetrics) Counter(cache, op string) prometheus.Counter {
	return m.ops.WithLabelValues(cache, op)
}
