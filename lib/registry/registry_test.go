package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/config"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routing = `{
  "default_time_out": 4000,
  "queues": [
    {"name": "fast", "core_pool_size": 1, "max_pool_size": 4, "max_pending_requests": 10},
    {"name": "slow", "core_pool_size": 1, "max_pool_size": 2, "max_pending_requests": 2}
  ],
  "systems": [
    {"name": "billing", "default_queue": "slow", "default_time_out": 2000,
     "calls": [
       {"method": "charge", "time_out": 500},
       {"method": "lookup", "queue": "fast"}
     ]},
    {"name": "search", "calls": [{"method": "query", "queue": "fast", "time_out": 100}]}
  ]
}`

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	doc, err := config.Parse(strings.NewReader(routing), "json")
	require.NoError(t, err)
	r, err := FromDocument(doc)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestResolve(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		system, method string
		want           call.Route
	}{
		// call timeout, system queue
		{"billing", "charge", call.Route{Queue: "slow", Timeout: 500 * time.Millisecond}},
		// call queue, system timeout
		{"billing", "lookup", call.Route{Queue: "fast", Timeout: 2 * time.Second}},
		// system defaults
		{"billing", "other", call.Route{Queue: "slow", Timeout: 2 * time.Second}},
		// call override without system defaults
		{"search", "query", call.Route{Queue: "fast", Timeout: 100 * time.Millisecond}},
		// system without defaults falls back to global
		{"search", "other", call.Route{Queue: DefaultQueue, Timeout: 4 * time.Second}},
		// unknown system
		{"unknown", "x", call.Route{Queue: DefaultQueue, Timeout: 4 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.system+"."+tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(call.Name{System: tt.system, Method: tt.method}))
		})
	}
}

func TestResolveWithoutAnyTimeout(t *testing.T) {
	tbl := &Table{}
	route := tbl.Resolve(call.Name{System: "a", Method: "b"})
	assert.Equal(t, DefaultQueue, route.Queue)
	assert.Zero(t, route.Timeout)
}

func TestRouteIsCachedOnEnvelope(t *testing.T) {
	r := newRegistry(t)
	env := call.New("billing", "charge", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
		return nil, nil
	}))

	first := r.Route(env)
	assert.Equal(t, "slow", first.Queue)

	// a reload does not change the route of an envelope that was already routed
	require.NoError(t, r.Reload(&Table{Systems: map[string]System{"billing": {Queue: "fast"}}}))
	assert.Equal(t, first, r.Route(env))
	assert.Equal(t, "fast", r.Resolve(env.Name()).Queue)
}

func TestDefaultPoolIsCreated(t *testing.T) {
	r := newRegistry(t)
	p, ok := r.Pool(DefaultQueue)
	require.True(t, ok)
	assert.Equal(t, pool.DefaultConfig(DefaultQueue), p.Config())

	names := make([]string, 0)
	for _, s := range r.Snapshots() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"default", "fast", "slow"}, names)
}

func TestUnknownQueueIsRejectedAtStartup(t *testing.T) {
	tbl := &Table{Systems: map[string]System{"a": {Queue: "ghost"}}}
	_, err := New(tbl)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "ghost")
}

func TestReloadKeepsTableOnError(t *testing.T) {
	r := newRegistry(t)
	before := r.Table()
	err := r.Reload(&Table{Calls: map[call.Name]call.Route{{System: "a", Method: "b"}: {Queue: "ghost"}}})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Same(t, before, r.Table())
	assert.NoError(t, r.Validate())
}

func TestDuplicatePool(t *testing.T) {
	a, err := pool.New(pool.Config{Name: "a", MaxSize: 1})
	require.NoError(t, err)
	b, err := pool.New(pool.Config{Name: "a", MaxSize: 1})
	require.NoError(t, err)
	_, err = New(nil, a, b)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
