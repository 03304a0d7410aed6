package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/config"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/ValentinKolb/dCall/lib/registry"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("dispatch")

// DefaultGuardTimeout bounds asynchronous calls whose resolved timeout is not positive
const DefaultGuardTimeout = 60 * time.Second

// DefaultGuardConfig is the guard pool used when none is configured
func DefaultGuardConfig() pool.Config {
	return pool.Config{
		Name:          config.GuardQueueName,
		CoreSize:      1,
		MaxSize:       64,
		QueueCapacity: 4096,
		KeepAlive:     30 * time.Second,
	}
}

// Hook is invoked with every envelope right before it is submitted
type Hook func(env *call.Envelope)

// Option configures a Dispatcher
type Option func(*Dispatcher) error

// WithSink adds an observability sink
func WithSink(s Sink) Option {
	return func(d *Dispatcher) error {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
		return nil
	}
}

// WithHook adds a pre-dispatch hook
func WithHook(h Hook) Option {
	return func(d *Dispatcher) error {
		if h != nil {
			d.hooks = append(d.hooks, h)
		}
		return nil
	}
}

// WithGuardPool uses p to run the async guards
func WithGuardPool(p *pool.Pool) Option {
	return func(d *Dispatcher) error {
		d.guard = p
		return nil
	}
}

// WithGuardConfig creates the guard pool from cfg
func WithGuardConfig(cfg pool.Config) Option {
	return func(d *Dispatcher) error {
		p, err := pool.New(cfg)
		if err != nil {
			return fmt.Errorf("guard pool: %w", err)
		}
		d.guard = p
		return nil
	}
}

// Dispatcher routes envelopes to their pools and enforces their timeouts
type Dispatcher struct {
	registry *registry.Registry
	guard    *pool.Pool
	sinks    []Sink
	hooks    []Hook
}

// New creates a dispatcher for the pools of reg
func New(reg *registry.Registry, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("dispatch: nil registry")
	}
	d := &Dispatcher{registry: reg}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.guard == nil {
		p, err := pool.New(DefaultGuardConfig())
		if err != nil {
			return nil, err
		}
		d.guard = p
	}
	return d, nil
}

// FromDocument creates the registry and the guard pool of doc and a dispatcher on top
func FromDocument(doc *config.Document, opts ...Option) (*Dispatcher, error) {
	reg, err := registry.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	if doc.Guard != nil {
		cfg := doc.Guard.PoolConfig()
		if cfg.Name == "" {
			cfg.Name = config.GuardQueueName
		}
		opts = append([]Option{WithGuardConfig(cfg)}, opts...)
	}
	return New(reg, opts...)
}

func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Guard returns the pool that runs the async guards
func (d *Dispatcher) Guard() *pool.Pool { return d.guard }

// Close shuts down the dispatch pools and then the guard pool
func (d *Dispatcher) Close(ctx context.Context) error {
	return errors.Join(d.registry.Shutdown(ctx), d.guard.Shutdown(ctx))
}

// --------------------------------------------------------------------------
// Synchronous execution
// --------------------------------------------------------------------------

// Execute runs env on its pool and blocks until the call is finished, timed out,
// rejected or interrupted. Every outcome is reported through the result.
func (d *Dispatcher) Execute(ctx context.Context, env *call.Envelope) *call.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	p, route, failed := d.prepare(ctx, env, false)
	if failed != nil {
		return failed
	}
	if !d.submit(p, env) {
		return env.Result()
	}

	timer := time.NewTimer(effectiveTimeout(route.Timeout))
	defer timer.Stop()

	select {
	case <-env.Result().Done():
	case <-timer.C:
		d.expire(env, route)
	case <-ctx.Done():
		env.Abort()
		env.Finish(call.StatusInternalFailure, fmt.Errorf("%w: %w", call.ErrInterrupted, ctx.Err()))
	}
	d.completed(p, env)
	return env.Result()
}

// --------------------------------------------------------------------------
// Asynchronous execution
// --------------------------------------------------------------------------

// ExecuteAsync submits env and returns immediately. A guard aborts the call once
// its timeout (or DefaultGuardTimeout) elapses.
func (d *Dispatcher) ExecuteAsync(ctx context.Context, env *call.Envelope) *call.Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	p, route, failed := d.prepare(ctx, env, true)
	if failed != nil {
		return call.NewHandle(env, failed)
	}
	if !d.submit(p, env) {
		return call.NewHandle(env, nil)
	}

	deadline := time.Now().Add(effectiveTimeout(route.Timeout))
	guard := func() { d.watch(p, env, route, deadline) }
	if err := d.guard.Submit(guard); err != nil {
		log.Warningf("guard pool rejected %s, watching on a dedicated goroutine: %v [%s]", env.Name(), err, env.Fields())
		go guard()
	}
	return call.NewHandle(env, nil)
}

// watch waits for the call to finish and aborts it at deadline. The deadline
// is fixed on submission, so time spent waiting for a guard worker counts.
func (d *Dispatcher) watch(p *pool.Pool, env *call.Envelope, route call.Route, deadline time.Time) {
	timer := time.NewTimer(max(time.Until(deadline), 0))
	defer timer.Stop()
	select {
	case <-env.Result().Done():
	case <-timer.C:
		d.expire(env, route)
	}
	d.completed(p, env)
}

// --------------------------------------------------------------------------
// Shared steps
// --------------------------------------------------------------------------

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultGuardTimeout
	}
	return timeout
}

// prepare begins the envelope, resolves its route and finds its pool. A non-nil
// result means the call ended before submission.
func (d *Dispatcher) prepare(ctx context.Context, env *call.Envelope, async bool) (*pool.Pool, call.Route, *call.Result) {
	if err := env.Begin(ctx, async); err != nil {
		log.Errorf("cannot dispatch %s: %v", env.Name(), err)
		return nil, call.Route{}, call.FailedResult(call.StatusInternalFailure, err)
	}
	route := d.registry.Route(env)
	p, ok := d.registry.Pool(route.Queue)
	if !ok {
		err := fmt.Errorf("queue %q of %s is not registered", route.Queue, env.Name())
		env.Finish(call.StatusInternalFailure, err)
		log.Errorf("%v [%s]", err, env.Fields())
		return nil, route, env.Result()
	}
	for _, h := range d.hooks {
		d.runHook(h, env)
	}
	d.notify(func(s Sink) { s.Submitted(env, p.Snapshot()) })
	return p, route, nil
}

// submit hands the envelope to its pool. It returns false if the call already
// ended because the pool did not accept it.
func (d *Dispatcher) submit(p *pool.Pool, env *call.Envelope) bool {
	err := p.Submit(env.Run)
	if err == nil {
		return true
	}
	if errors.Is(err, pool.ErrRejected) {
		env.Reject(fmt.Errorf("%w: %w", call.ErrTooBusy, err))
	} else {
		env.Finish(call.StatusInternalFailure, fmt.Errorf("submit %s: %w", env.Name(), err))
	}
	d.completed(p, env)
	return false
}

func (d *Dispatcher) expire(env *call.Envelope, route call.Route) {
	env.Abort()
	if env.Finish(call.StatusTimedOut, fmt.Errorf("%w after %s", call.ErrTimedOut, effectiveTimeout(route.Timeout))) {
		return
	}
	// completion won the race, the completed result stands
	log.Debugf("%s finished while being aborted [%s]", env.Name(), env.Fields())
}

func (d *Dispatcher) completed(p *pool.Pool, env *call.Envelope) {
	snap := p.Snapshot()
	d.notify(func(s Sink) { s.Completed(env, snap) })
}

func (d *Dispatcher) notify(fn func(s Sink)) {
	for _, s := range d.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("sink %T panicked: %v", s, r)
				}
			}()
			fn(s)
		}()
	}
}

func (d *Dispatcher) runHook(h Hook, env *call.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("pre-dispatch hook panicked for %s: %v", env.Name(), r)
		}
	}()
	h(env)
}
