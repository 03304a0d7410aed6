// Package httpcall executes calls against HTTP backends.
package httpcall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ValentinKolb/dCall/lib/call"
)

// DefaultMaxBodySize limits how much of a response body is read
const DefaultMaxBodySize = 16 << 20

// ErrBodyTooLarge is wrapped by the backend error of a response above the body limit
var ErrBodyTooLarge = errors.New("response body too large")

// Request describes one HTTP request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Executor performs a single HTTP request. It is single-use like the envelope
// that owns it.
type Executor struct {
	client  *http.Client
	req     Request
	maxBody int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool
}

// New creates an executor. A nil client uses http.DefaultClient.
func New(client *http.Client, req Request) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	return &Executor{client: client, req: req, maxBody: DefaultMaxBodySize}
}

// WithMaxBodySize sets the body limit of e, a limit of zero or less keeps the default
func (e *Executor) WithMaxBodySize(n int64) *Executor {
	if n > 0 {
		e.maxBody = n
	}
	return e
}

// NewCall wraps an HTTP request in an envelope
func NewCall(system, method string, client *http.Client, req Request, opts ...call.Option) *call.Envelope {
	return call.New(system, method, New(client, req), opts...)
}

// Execute sends the request. Any status outside 2xx is a *call.BackendError, the
// payload is returned with it.
func (e *Executor) Execute(ctx context.Context) (*call.Payload, error) {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		return nil, call.ErrAborted
	}
	ctx, e.cancel = context.WithCancel(ctx)
	cancel := e.cancel
	e.mu.Unlock()
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, e.req.Method, e.req.URL, bytes.NewReader(e.req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range e.req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &call.BackendError{Msg: e.req.Method + " " + e.req.URL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return nil, &call.BackendError{StatusCode: resp.StatusCode, Msg: "read body", Err: err}
	}
	if int64(len(body)) > e.maxBody {
		return nil, &call.BackendError{
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("read body (limit %d bytes)", e.maxBody),
			Err:        ErrBodyTooLarge,
		}
	}

	payload := &call.Payload{
		StatusCode: resp.StatusCode,
		Body:       body,
		Meta:       flatten(resp.Header),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payload, &call.BackendError{StatusCode: resp.StatusCode, Msg: resp.Status}
	}
	return payload, nil
}

// Abort cancels an in-flight request, or prevents it if it has not started
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
}

func flatten(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k, vs := range h {
		m[k] = strings.Join(vs, ", ")
	}
	return m
}
