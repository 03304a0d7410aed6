package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("call")

// Name identifies a backend operation: the system (backend) and the method called on it
type Name struct {
	System string
	Method string
}

func (n Name) String() string {
	return n.System + "." + n.Method
}

// Route is the resolved destination of a call
type Route struct {
	Queue   string
	Timeout time.Duration
}

// Stats records the timing of a call
type Stats struct {
	Submitted      time.Time
	Started        time.Time
	Finished       time.Time
	QueueWait      time.Duration
	BackendTime    time.Duration
	ConversionTime time.Duration
	CallbackTime   time.Duration
	CallbackFailed bool
}

// Total is the time from submission to the terminal state
func (s Stats) Total() time.Duration {
	if s.Finished.IsZero() || s.Submitted.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Submitted)
}

func (s Stats) String() string {
	return fmt.Sprintf("total=%s wait=%s backend=%s convert=%s callback=%s",
		s.Total(), s.QueueWait, s.BackendTime, s.ConversionTime, s.CallbackTime)
}

// Option configures an envelope
type Option func(*Envelope)

// WithConverter sets the stage that turns the payload into the result value
func WithConverter(c Converter) Option {
	return func(e *Envelope) { e.converter = c }
}

// WithCallback sets the function invoked when an asynchronous call is terminal
func WithCallback(cb Callback) Option {
	return func(e *Envelope) { e.callback = cb }
}

// WithRoute pins the route, skipping registry resolution
func WithRoute(r Route) Option {
	return func(e *Envelope) {
		e.route = r
		e.routed = true
	}
}

// Envelope is a single backend invocation
type Envelope struct {
	name      Name
	executor  Executor
	converter Converter
	callback  Callback

	mu     sync.Mutex
	id     string
	async  bool
	route  Route
	routed bool
	stats  Stats
	fields Fields

	result *Result

	begun     atomic.Bool
	aborted   atomic.Bool
	abortOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an envelope for the given system and method. It panics if exec is nil.
func New(system, method string, exec Executor, opts ...Option) *Envelope {
	if exec == nil {
		panic("call: nil executor")
	}
	e := &Envelope{
		name:     Name{System: system, Method: method},
		executor: exec,
		result:   newResult(),
		fields:   Fields{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin assigns a fresh identity, starts the stats timer and snapshots the log
// fields of ctx. The envelope context keeps the values of ctx but not its
// cancellation, the call is only cancelled through Abort.
func (e *Envelope) Begin(ctx context.Context, async bool) error {
	if !e.begun.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fields := FieldsFrom(ctx).clone()
	e.mu.Lock()
	e.id = uuid.NewString()
	e.async = async
	e.stats.Submitted = time.Now()
	for k, v := range e.fields {
		fields[k] = v
	}
	fields["call"] = e.name.String()
	fields["id"] = e.id
	e.fields = fields
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()
	return nil
}

func (e *Envelope) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Envelope) Name() Name { return e.name }

func (e *Envelope) Async() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.async
}

// Route returns the cached route and whether it was resolved already
func (e *Envelope) Route() (Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.route, e.routed
}

// SetRoute caches a resolved route. A route that is already set is kept.
func (e *Envelope) SetRoute(r Route) Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.routed {
		e.route = r
		e.routed = true
	}
	return e.route
}

// Stats returns a copy of the statistics record
func (e *Envelope) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()
	s.Finished = e.result.FinishedAt()
	return s
}

// Fields returns the log context captured at submission
func (e *Envelope) Fields() Fields {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fields
}

func (e *Envelope) Result() *Result { return e.result }

// Aborted reports whether Abort was called
func (e *Envelope) Aborted() bool { return e.aborted.Load() }

// Abort cancels the envelope context and calls the executor's Abort. Only the
// first call has an effect, it returns true for that call.
func (e *Envelope) Abort() bool {
	first := false
	e.abortOnce.Do(func() {
		first = true
		e.aborted.Store(true)
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("executor abort of %s panicked: %v", e.name, r)
				}
			}()
			e.executor.Abort()
		}()
	})
	return first
}

// Reject marks the call too-busy without running it
func (e *Envelope) Reject(err error) bool {
	if err == nil {
		err = ErrTooBusy
	}
	return e.Finish(StatusTooBusy, err)
}

// Finish sets a non-success terminal state. It returns false if the result was
// already terminal.
func (e *Envelope) Finish(status Status, err error) bool {
	return e.settle(status, nil, nil, err)
}

func (e *Envelope) settle(status Status, value any, payload *Payload, err error) bool {
	if !e.result.finish(status, value, payload, err) {
		return false
	}
	e.mu.Lock()
	cancel := e.cancel
	async := e.async
	e.mu.Unlock()
	if cancel != nil {
		// releases the context, the executor is done or abandoned
		cancel()
	}
	if async && e.callback != nil {
		e.runCallback()
	}
	return true
}

func (e *Envelope) runCallback() {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panicked: %v", r)
			}
		}()
		err = e.callback(e.result)
	}()
	e.mu.Lock()
	e.stats.CallbackTime = time.Since(start)
	e.stats.CallbackFailed = err != nil
	fields := e.fields
	e.mu.Unlock()
	if err != nil {
		log.Warningf("callback of %s failed: %v [%s]", e.name, err, fields)
	}
}

// Run executes the call on the current goroutine: executor, then converter, then
// the terminal transition. It is the body submitted to a pool. A result that
// arrives after an abort is dropped.
func (e *Envelope) Run() {
	e.mu.Lock()
	e.stats.Started = time.Now()
	e.stats.QueueWait = e.stats.Started.Sub(e.stats.Submitted)
	ctx := e.ctx
	e.mu.Unlock()

	if e.result.IsDone() || e.aborted.Load() {
		return
	}
	if ctx == nil {
		e.Finish(StatusInternalFailure, fmt.Errorf("envelope %s was not submitted", e.name))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.Finish(StatusInternalFailure, fmt.Errorf("call %s panicked: %v", e.name, r))
		}
	}()

	start := time.Now()
	payload, err := e.executor.Execute(ctx)
	backend := time.Since(start)
	e.mu.Lock()
	e.stats.BackendTime = backend
	e.mu.Unlock()

	if e.aborted.Load() {
		return
	}
	if err != nil {
		e.settle(StatusBackendFailure, nil, payload, err)
		return
	}

	var value any = payload
	if e.converter != nil {
		start = time.Now()
		value, err = e.converter(payload)
		conversion := time.Since(start)
		e.mu.Lock()
		e.stats.ConversionTime = conversion
		e.mu.Unlock()
		if err != nil {
			e.settle(StatusInternalFailure, nil, payload, fmt.Errorf("convert %s: %w", e.name, err))
			return
		}
	}
	e.settle(StatusSuccess, value, payload, nil)
}

// Handle is the caller's view of an asynchronous call
type Handle struct {
	env    *Envelope
	result *Result
}

// NewHandle returns a handle for env. A non-nil res replaces the envelope result,
// which is used when the submission failed before the envelope was accepted.
func NewHandle(env *Envelope, res *Result) *Handle {
	if res == nil {
		res = env.result
	}
	return &Handle{env: env, result: res}
}

func (h *Handle) ID() string { return h.env.ID() }

func (h *Handle) Envelope() *Envelope { return h.env }

func (h *Handle) Result() *Result { return h.result }

func (h *Handle) Done() <-chan struct{} { return h.result.Done() }

// Wait blocks until the call is terminal or ctx is done and returns the result
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	if err := h.result.Wait(ctx); err != nil {
		return nil, err
	}
	return h.result, nil
}
