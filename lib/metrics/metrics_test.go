package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedEnvelope(t *testing.T, status call.Status) *call.Envelope {
	t.Helper()
	env := call.New("billing", "charge", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
		return &call.Payload{StatusCode: 200}, nil
	}))
	require.NoError(t, env.Begin(context.Background(), false))
	if status == call.StatusSuccess {
		env.Run()
	} else {
		env.Finish(status, nil)
	}
	return env
}

func TestDispatchSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewDispatchSink(reg)
	require.NoError(t, err)

	snap := pool.Snapshot{Name: "q"}
	ok := finishedEnvelope(t, call.StatusSuccess)
	busy := finishedEnvelope(t, call.StatusTooBusy)

	sink.Submitted(ok, snap)
	sink.Submitted(busy, snap)
	sink.Completed(ok, snap)
	sink.Completed(busy, snap)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.submitted.WithLabelValues("q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.calls.WithLabelValues("q", "billing", "charge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.calls.WithLabelValues("q", "billing", "charge", "too-busy")))
	// a rejected call never waited for a worker
	assert.Equal(t, 1, testutil.CollectAndCount(sink.queueWait))

	_, err = NewDispatchSink(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestPoolCollector(t *testing.T) {
	p, err := pool.New(pool.Config{Name: "q", CoreSize: 1, MaxSize: 3, QueueCapacity: 7})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	c := NewPoolCollector(Sources(PoolSource(p), func() []pool.Snapshot {
		return []pool.Snapshot{{Name: "guard", MaxSize: 1, Rejected: 4}}
	}))
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP dcall_pool_rejected_tasks_total Submissions rejected because the pool was saturated
# TYPE dcall_pool_rejected_tasks_total counter
dcall_pool_rejected_tasks_total{pool="guard"} 4
dcall_pool_rejected_tasks_total{pool="q"} 0
# HELP dcall_pool_queue_capacity Configured queue capacity
# TYPE dcall_pool_queue_capacity gauge
dcall_pool_queue_capacity{pool="guard"} 0
dcall_pool_queue_capacity{pool="q"} 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dcall_pool_rejected_tasks_total", "dcall_pool_queue_capacity"))
}

func TestCacheMetrics(t *testing.T) {
	var nilMetrics *CacheMetrics
	nilMetrics.Inc("c", CacheHit)

	m, err := NewCacheMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.Inc("c", CacheHit)
	m.Inc("c", CacheHit)
	m.Inc("c", CacheMiss)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Counter("c", CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter("c", CacheMiss)))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
