package httpcall

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	exec := New(srv.Client(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"X-Test": []string{"yes"}},
		Body:   []byte("ping"),
	})
	payload, err := exec.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, payload.StatusCode)
	assert.Equal(t, "echo:ping", string(payload.Body))
	assert.Equal(t, "text/plain", payload.Meta["Content-Type"])
}

func TestExecuteNon2xxIsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	payload, err := New(nil, Request{URL: srv.URL}).Execute(context.Background())
	var be *call.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusServiceUnavailable, be.StatusCode)
	require.NotNil(t, payload)
	assert.Contains(t, string(payload.Body), "nope")
}

func TestExecuteBodyAboveLimitFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 11)))
	}))
	defer srv.Close()

	payload, err := New(nil, Request{URL: srv.URL}).WithMaxBodySize(10).Execute(context.Background())
	assert.Nil(t, payload)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	var be *call.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusOK, be.StatusCode)

	// exactly at the limit is fine
	payload, err = New(nil, Request{URL: srv.URL}).WithMaxBodySize(11).Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, payload.Body, 11)
}

func TestAbortCancelsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	exec := New(srv.Client(), Request{URL: srv.URL})
	errCh := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	exec.Abort()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not aborted")
	}
}

func TestAbortBeforeExecute(t *testing.T) {
	exec := New(nil, Request{URL: "http://127.0.0.1:0"})
	exec.Abort()
	_, err := exec.Execute(context.Background())
	assert.ErrorIs(t, err, call.ErrAborted)
}

func TestNewCall(t *testing.T) {
	env := NewCall("search", "query", nil, Request{URL: "http://example.invalid"})
	assert.Equal(t, call.Name{System: "search", Method: "query"}, env.Name())
}
