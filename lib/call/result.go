package call

import (
	"context"
	"sync"
	"time"
)

// Result holds the terminal state of a call. The zero value is not usable, results
// are created together with their envelope.
type Result struct {
	mu      sync.Mutex
	done    chan struct{}
	status  Status
	value   any
	payload *Payload
	err     error
	at      time.Time
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// FailedResult returns a result that is already terminal. It is used for
// submissions that never got an envelope of their own.
func FailedResult(status Status, err error) *Result {
	r := newResult()
	r.finish(status, nil, nil, err)
	return r
}

// finish sets the terminal state. Only the first call wins.
func (r *Result) finish(status Status, value any, payload *Payload, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	r.status = status
	r.value = value
	r.payload = payload
	r.err = err
	r.at = time.Now()
	close(r.done)
	return true
}

// Done is closed when the result became terminal
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// IsDone reports whether the result is terminal
func (r *Result) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is terminal or ctx is done
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinishedAt is the time of the terminal transition, zero while pending
func (r *Result) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.at
}

func (r *Result) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Value is the converted backend answer, or the payload if no converter is set
func (r *Result) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

func (r *Result) Payload() *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// IsSuccess reports whether the call finished successfully
func (r *Result) IsSuccess() bool {
	return r.Status() == StatusSuccess
}
