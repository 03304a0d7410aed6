package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/config"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/ValentinKolb/dCall/lib/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingExecutor blocks until its context is cancelled and counts aborts
type hangingExecutor struct {
	aborts  atomic.Int32
	started chan struct{}
	once    sync.Once
}

func newHanging() *hangingExecutor {
	return &hangingExecutor{started: make(chan struct{})}
}

func (h *hangingExecutor) Execute(ctx context.Context) (*call.Payload, error) {
	h.once.Do(func() { close(h.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingExecutor) Abort() { h.aborts.Add(1) }

func ok(body string) call.ExecutorFunc {
	return func(ctx context.Context) (*call.Payload, error) {
		return &call.Payload{StatusCode: 200, Body: []byte(body)}, nil
	}
}

type recordingSink struct {
	mu        sync.Mutex
	submitted []string
	completed []call.Status
}

func (r *recordingSink) Submitted(env *call.Envelope, _ pool.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, env.Name().String())
}

func (r *recordingSink) Completed(env *call.Envelope, _ pool.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, env.Result().Status())
}

func (r *recordingSink) statuses() []call.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call.Status(nil), r.completed...)
}

type panickingSink struct{}

func (panickingSink) Submitted(*call.Envelope, pool.Snapshot) { panic("submitted") }
func (panickingSink) Completed(*call.Envelope, pool.Snapshot) { panic("completed") }

func newDispatcher(t *testing.T, doc *config.Document, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := FromDocument(doc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func singleQueue(core, max, pending int, timeoutMs int64) *config.Document {
	return &config.Document{
		Queues: []config.Queue{{Name: "q", CorePoolSize: core, MaxPoolSize: max, MaxPendingRequests: pending}},
		Systems: []config.System{{
			Name:           "sys",
			DefaultQueue:   "q",
			DefaultTimeOut: timeoutMs,
		}},
	}
}

func TestExecuteSuccess(t *testing.T) {
	sink := &recordingSink{}
	d := newDispatcher(t, singleQueue(1, 2, 2, 1000), WithSink(sink), WithSink(panickingSink{}))

	env := call.New("sys", "get", ok("hello"))
	res := d.Execute(context.Background(), env)

	require.Equal(t, call.StatusSuccess, res.Status())
	assert.Equal(t, "hello", string(res.Payload().Body))
	route, routed := env.Route()
	require.True(t, routed)
	assert.Equal(t, "q", route.Queue)
	assert.Equal(t, time.Second, route.Timeout)
	assert.Equal(t, []string{"sys.get"}, sink.submitted)
	assert.Equal(t, []call.Status{call.StatusSuccess}, sink.statuses())
}

// A hung backend with a 100ms timeout ends timed out and is aborted exactly once
func TestExecuteTimeoutAbortsOnce(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 2, 2, 100))
	exec := newHanging()
	env := call.New("sys", "hang", exec)

	start := time.Now()
	res := d.Execute(context.Background(), env)
	elapsed := time.Since(start)

	assert.Equal(t, call.StatusTimedOut, res.Status())
	assert.ErrorIs(t, res.Err(), call.ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int32(1), exec.aborts.Load())

	// further aborts do not reach the executor
	env.Abort()
	assert.Equal(t, int32(1), exec.aborts.Load())
}

// core=1, max=1, queue=1: the first call runs, the second waits and the third is
// rejected without its body running
func TestExecuteRejectsWhenSaturated(t *testing.T) {
	doc := singleQueue(1, 1, 1, 300)
	doc.Systems[0].Calls = []config.Call{{Method: "two", TimeOut: 5000}}
	d := newDispatcher(t, doc)

	first := newHanging()
	firstDone := make(chan *call.Result, 1)
	go func() { firstDone <- d.Execute(context.Background(), call.New("sys", "one", first)) }()
	<-first.started

	var secondRan atomic.Bool
	secondDone := make(chan *call.Result, 1)
	go func() {
		secondDone <- d.Execute(context.Background(), call.New("sys", "two", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
			secondRan.Store(true)
			return &call.Payload{}, nil
		})))
	}()
	p, _ := d.Registry().Pool("q")
	require.Eventually(t, func() bool { return p.Snapshot().Queued == 1 }, time.Second, time.Millisecond)

	var thirdRan atomic.Bool
	third := d.Execute(context.Background(), call.New("sys", "three", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
		thirdRan.Store(true)
		return &call.Payload{}, nil
	})))

	assert.Equal(t, call.StatusTooBusy, third.Status())
	assert.ErrorIs(t, third.Err(), pool.ErrRejected)
	assert.False(t, thirdRan.Load())
	assert.Equal(t, uint64(1), p.Rejected())

	// the first call times out, its abort frees the worker for the second
	res := <-firstDone
	assert.Equal(t, call.StatusTimedOut, res.Status())
	assert.Equal(t, call.StatusSuccess, (<-secondDone).Status())
	assert.True(t, secondRan.Load())
}

// core=1, max=1, queue=1 with three 1s calls: two succeed, one is rejected
func TestExecuteSaturatedCountsCompletedAndRejected(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 1, 5000))
	p, _ := d.Registry().Pool("q")

	var ran atomic.Int32
	sleeper := func() call.ExecutorFunc {
		return func(ctx context.Context) (*call.Payload, error) {
			ran.Add(1)
			select {
			case <-time.After(time.Second):
				return &call.Payload{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	results := make(chan *call.Result, 2)
	go func() { results <- d.Execute(context.Background(), call.New("sys", "one", sleeper())) }()
	require.Eventually(t, func() bool { return p.Snapshot().Active == 1 }, time.Second, time.Millisecond)
	go func() { results <- d.Execute(context.Background(), call.New("sys", "two", sleeper())) }()
	require.Eventually(t, func() bool { return p.Snapshot().Queued == 1 }, time.Second, time.Millisecond)

	third := d.Execute(context.Background(), call.New("sys", "three", sleeper()))
	assert.Equal(t, call.StatusTooBusy, third.Status())

	for range 2 {
		assert.Equal(t, call.StatusSuccess, (<-results).Status())
	}
	assert.Equal(t, uint64(1), p.Rejected())
	require.Eventually(t, func() bool { return p.Snapshot().Completed == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), ran.Load())
}

func TestExecuteCallerCancelIsInternalFailure(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 5000))
	exec := newHanging()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-exec.started
		cancel()
	}()
	res := d.Execute(ctx, call.New("sys", "hang", exec))

	assert.Equal(t, call.StatusInternalFailure, res.Status())
	assert.ErrorIs(t, res.Err(), call.ErrInterrupted)
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Equal(t, int32(1), exec.aborts.Load())
}

func TestExecuteBackendFailure(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 1000))
	res := d.Execute(context.Background(), call.New("sys", "fail", call.ExecutorFunc(func(ctx context.Context) (*call.Payload, error) {
		return &call.Payload{StatusCode: 500}, &call.BackendError{StatusCode: 500, Msg: "boom"}
	})))
	assert.Equal(t, call.StatusBackendFailure, res.Status())
	var be *call.BackendError
	require.True(t, errors.As(res.Err(), &be))
	assert.Equal(t, 500, be.StatusCode)
}

func TestExecuteResubmissionFails(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 1000))
	env := call.New("sys", "get", ok(""))
	require.True(t, d.Execute(context.Background(), env).IsSuccess())

	again := d.Execute(context.Background(), env)
	assert.Equal(t, call.StatusInternalFailure, again.Status())
	assert.ErrorIs(t, again.Err(), call.ErrAlreadySubmitted)
	assert.True(t, env.Result().IsSuccess())
}

func TestHooksRunBeforeSubmission(t *testing.T) {
	var seen []string
	d := newDispatcher(t, singleQueue(1, 1, 0, 1000),
		WithHook(func(env *call.Envelope) {
			seen = append(seen, env.ID())
			assert.False(t, env.Result().IsDone())
		}),
		WithHook(func(env *call.Envelope) { panic("hook") }),
	)
	env := call.New("sys", "get", ok(""))
	res := d.Execute(context.Background(), env)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, []string{env.ID()}, seen)
}

func TestExecuteAsyncSuccessWithCallback(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 2, 2, 1000))

	got := make(chan call.Status, 1)
	env := call.New("sys", "get", ok("v"),
		call.WithConverter(func(p *call.Payload) (any, error) { return string(p.Body), nil }),
		call.WithCallback(func(r *call.Result) error {
			got <- r.Status()
			return nil
		}))

	h := d.ExecuteAsync(context.Background(), env)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", res.Value())
	assert.Equal(t, call.StatusSuccess, <-got)

	require.Eventually(t, func() bool {
		return d.Guard().Snapshot().Completed == 1
	}, time.Second, time.Millisecond)
}

// An async call on a hung backend ends timed out and the guard task completes
func TestExecuteAsyncGuardTimesOut(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 50))
	exec := newHanging()

	var callbackStatus atomic.Value
	h := d.ExecuteAsync(context.Background(), call.New("sys", "hang", exec, call.WithCallback(func(r *call.Result) error {
		callbackStatus.Store(r.Status())
		return errors.New("callback error is recorded, not propagated")
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, call.StatusTimedOut, res.Status())
	assert.Equal(t, int32(1), exec.aborts.Load())
	require.Eventually(t, func() bool {
		return d.Guard().Snapshot().Completed == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, call.StatusTimedOut, callbackStatus.Load())
	assert.True(t, h.Envelope().Stats().CallbackFailed)
}

func TestExecuteAsyncRejected(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 5000))
	exec := newHanging()
	first := d.ExecuteAsync(context.Background(), call.New("sys", "hang", exec))
	<-exec.started

	second := d.ExecuteAsync(context.Background(), call.New("sys", "get", ok("")))
	require.True(t, second.Result().IsDone())
	assert.Equal(t, call.StatusTooBusy, second.Result().Status())

	first.Envelope().Abort()
	first.Envelope().Finish(call.StatusInternalFailure, errors.New("test cleanup"))
}

// A saturated guard pool must not leave an async call without a timeout
func TestGuardPoolRejectionFallsBack(t *testing.T) {
	guard, err := pool.New(pool.Config{Name: "tiny-guard", MaxSize: 1})
	require.NoError(t, err)
	d := newDispatcher(t, singleQueue(2, 2, 0, 50), WithGuardPool(guard))

	// occupy the only guard worker
	blocker := make(chan struct{})
	defer close(blocker)
	require.NoError(t, guard.Submit(func() { <-blocker }))

	exec := newHanging()
	h := d.ExecuteAsync(context.Background(), call.New("sys", "hang", exec))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, call.StatusTimedOut, res.Status())
	assert.Equal(t, uint64(1), guard.Rejected())
}

// Time spent queued for a guard worker counts against the call's timeout
func TestAsyncDeadlineStartsOnSubmission(t *testing.T) {
	guard, err := pool.New(pool.Config{Name: "one-guard", MaxSize: 1, QueueCapacity: 10})
	require.NoError(t, err)
	d := newDispatcher(t, singleQueue(2, 2, 0, 200), WithGuardPool(guard))

	start := time.Now()
	h1 := d.ExecuteAsync(context.Background(), call.New("sys", "hang", newHanging()))
	h2 := d.ExecuteAsync(context.Background(), call.New("sys", "hang", newHanging()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range []*call.Handle{h1, h2} {
		res, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, call.StatusTimedOut, res.Status())
	}
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.Zero(t, guard.Rejected())
}

// Without any configured timeout the route stays zero and the guard default bounds the call
func TestUnsetTimeoutFallsThroughToGuardDefault(t *testing.T) {
	d := newDispatcher(t, singleQueue(1, 1, 0, 0))
	env := call.New("sys", "get", ok("hi"))

	h := d.ExecuteAsync(context.Background(), env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, call.StatusSuccess, res.Status())

	route, routed := env.Route()
	require.True(t, routed)
	assert.Zero(t, route.Timeout)
	assert.Equal(t, DefaultGuardTimeout, effectiveTimeout(route.Timeout))
}

func TestDefaultGuardTimeoutIsUsedForNonPositiveTimeouts(t *testing.T) {
	assert.Equal(t, DefaultGuardTimeout, effectiveTimeout(0))
	assert.Equal(t, DefaultGuardTimeout, effectiveTimeout(-time.Second))
	assert.Equal(t, time.Second, effectiveTimeout(time.Second))
}

func TestUnknownQueueAtCallTime(t *testing.T) {
	reg, err := registry.New(nil)
	require.NoError(t, err)
	d, err := New(reg)
	require.NoError(t, err)
	defer d.Close(context.Background())

	env := call.New("sys", "get", ok(""), call.WithRoute(call.Route{Queue: "ghost", Timeout: time.Second}))
	res := d.Execute(context.Background(), env)
	assert.Equal(t, call.StatusInternalFailure, res.Status())
}
