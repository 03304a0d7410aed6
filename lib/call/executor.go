package call

import (
	"context"
	"fmt"
)

// Payload is the raw answer of a backend
type Payload struct {
	StatusCode int
	Body       []byte
	Meta       map[string]string
}

// Executor performs the backend I/O of a call.
//
// Execute must return promptly once ctx is cancelled. Abort is invoked at most
// once per envelope, possibly concurrently with Execute and possibly before
// Execute started.
type Executor interface {
	Execute(ctx context.Context) (*Payload, error)
	Abort()
}

// ExecutorFunc adapts a function to the Executor interface. Its Abort is a no-op,
// cancellation is delivered through the context only.
type ExecutorFunc func(ctx context.Context) (*Payload, error)

func (f ExecutorFunc) Execute(ctx context.Context) (*Payload, error) { return f(ctx) }

func (f ExecutorFunc) Abort() {}

// Converter turns the raw payload into the value stored in the result
type Converter func(p *Payload) (any, error)

// Callback is invoked once an asynchronous call reached its terminal state
type Callback func(r *Result) error

// BackendError is the error of a call whose backend answered with a failure
type BackendError struct {
	StatusCode int
	Msg        string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend error (status %d): %s: %v", e.StatusCode, e.Msg, e.Err)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Msg)
}

func (e *BackendError) Unwrap() error { return e.Err }
