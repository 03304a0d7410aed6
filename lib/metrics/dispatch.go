package metrics

import (
	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dcall"

// DispatchSink records dispatch outcomes. It implements dispatch.Sink.
type DispatchSink struct {
	submitted *prometheus.CounterVec // By queue
	calls     *prometheus.CounterVec // By queue, system, method and status
	duration  *prometheus.HistogramVec
	queueWait *prometheus.HistogramVec
	backend   *prometheus.HistogramVec
}

// NewDispatchSink creates the dispatch metrics and registers them with reg
func NewDispatchSink(reg prometheus.Registerer) (*DispatchSink, error) {
	s := &DispatchSink{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "submitted_total",
			Help:      "Calls handed to a dispatch queue",
		}, []string{"queue"}),

		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Finished calls by outcome",
		}, []string{"queue", "system", "method", "status"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Time from submission to the terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
		}, []string{"queue", "status"}),

		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_wait_seconds",
			Help:      "Time a call waited for a worker",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"queue"}),

		backend: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "backend_duration_seconds",
			Help:      "Time spent in the backend executor",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"queue"}),
	}

	for _, c := range []prometheus.Collector{s.submitted, s.calls, s.duration, s.queueWait, s.backend} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *DispatchSink) Submitted(env *call.Envelope, snap pool.Snapshot) {
	s.submitted.WithLabelValues(snap.Name).Inc()
}

func (s *DispatchSink) Completed(env *call.Envelope, snap pool.Snapshot) {
	status := env.Result().Status().String()
	name := env.Name()
	stats := env.Stats()
	s.calls.WithLabelValues(snap.Name, name.System, name.Method, status).Inc()
	s.duration.WithLabelValues(snap.Name, status).Observe(stats.Total().Seconds())
	if !stats.Started.IsZero() {
		s.queueWait.WithLabelValues(snap.Name).Observe(stats.QueueWait.Seconds())
		s.backend.WithLabelValues(snap.Name).Observe(stats.BackendTime.Seconds())
	}
}
