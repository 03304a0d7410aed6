package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("transport/rpc")

// maxRequestBytes bounds the body of a single request
const maxRequestBytes = 64 << 20

// NewHttpServerTransport creates a server transport that accepts
// POST /{shardID} requests
func NewHttpServerTransport() *ServerTransport {
	return &ServerTransport{}
}

// ServerTransport implements transport.IRPCServerTransport over HTTP
type ServerTransport struct {
	handler transport.ServerHandleFunc
	debug   bool

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

var _ transport.IRPCServerTransport = (*ServerTransport)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *ServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *ServerTransport) Listen(config common.ServerConfig) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.debug = config.DebugEnabled()
	srv := &http.Server{
		Addr:              config.Endpoint,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.srv = srv
	t.mu.Unlock()

	log.Infof("Starting HTTP server on %s", config.Endpoint)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *ServerTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the http.Handler serving rpc requests. It can be mounted
// on an existing server instead of calling Listen.
func (t *ServerTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.debug {
		mux.HandleFunc("POST /{shardID}", loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST /{shardID}", t.handleRequest)
	}
	return mux
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *ServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.ParseUint(r.PathValue("shardID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid shardID", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if t.handler == nil {
		http.Error(w, "No handler registered", http.StatusServiceUnavailable)
		return
	}
	resp := t.handler(r.Context(), shardID, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		log.Warningf("failed to write response for shard %d: %v", shardID, err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs every request at debug level
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
