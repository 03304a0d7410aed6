package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport"
)

// IServerConnector creates listeners for a concrete network (tcp, unix)
type IServerConnector interface {
	// Name returns the network name used in logs
	Name() string
	// Listen creates the listener for config.Endpoint
	Listen(config common.ServerConfig) (net.Listener, error)
	// Upgrade applies network specific settings to an accepted connection
	Upgrade(conn net.Conn) error
}

// ServerTransport serves frames on every accepted connection. Requests of one
// connection are handled concurrently, up to a fixed number per connection.
type ServerTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	maxWorkersPerConn int
	buffers           sync.Pool

	// cancelled when a shutdown gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	timeout  time.Duration
	active   sync.WaitGroup
}

var _ transport.IRPCServerTransport = (*ServerTransport)(nil)

// NewServerTransport creates a server transport on top of connector. Request
// buffers of bufferSize bytes are pooled, larger requests allocate.
func NewServerTransport(connector IServerConnector, bufferSize, maxWorkersPerConn int) *ServerTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &ServerTransport{
		connector:         connector,
		maxWorkersPerConn: max(maxWorkersPerConn, 1),
		buffers: sync.Pool{New: func() any {
			buf := make([]byte, bufferSize)
			return &buf
		}},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *ServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *ServerTransport) Listen(config common.ServerConfig) error {
	name := t.connector.Name()
	if t.handler == nil {
		return fmt.Errorf("%s transport: no handler registered", name)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	listener, err := t.connector.Listen(config)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%s transport: %w", name, err)
	}
	t.listener = listener
	t.timeout = config.Timeout()
	t.mu.Unlock()

	log.Infof("Starting %s server on %s with %d workers per connection", name, listener.Addr(), t.maxWorkersPerConn)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warningf("accept: %v", err)
				continue
			}
			return fmt.Errorf("%s transport: accept: %w", name, err)
		}
		if err := t.connector.Upgrade(conn); err != nil {
			log.Warningf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}
		if t.track(conn) {
			go t.handleConnection(conn)
		}
	}
}

// Shutdown stops accepting connections and requests, then waits until every
// accepted request is answered. Once ctx is done the remaining connections are
// closed and the handlers see their context cancelled.
func (t *ServerTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	if t.listener != nil {
		_ = t.listener.Close()
	}
	for conn := range t.conns {
		// unblocks the read loop, pending responses are still written
		_ = conn.SetReadDeadline(time.Now())
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		t.mu.Lock()
		for conn := range t.conns {
			_ = conn.Close()
		}
		t.mu.Unlock()
		return ctx.Err()
	}
}

// Addr returns the address the transport listens on, nil before Listen
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *ServerTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// track registers an accepted connection, or closes it if the transport is
// shutting down
func (t *ServerTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return false
	}
	t.conns[conn] = struct{}{}
	t.active.Add(1)
	return true
}

func (t *ServerTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
	t.active.Done()
}

// handleConnection reads requests until the connection ends and answers each
// one from its own goroutine
func (t *ServerTransport) handleConnection(conn net.Conn) {
	defer t.untrack(conn)

	workers := make(chan struct{}, t.maxWorkersPerConn)
	var wg sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(shardID, requestID uint64, data []byte) {
		start := time.Now()
		resp := t.handler(t.ctx, shardID, data)
		log.Debugf("shard %d request %d took %s", shardID, requestID, time.Since(start))

		writeMu.Lock()
		defer writeMu.Unlock()
		if t.timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(t.timeout))
		}
		if err := writeFrame(conn, shardID, requestID, resp); err != nil {
			log.Warningf("failed to write response to %s: %v", conn.RemoteAddr(), err)
		}
	}

	for {
		buf := t.buffers.Get().(*[]byte)
		shardID, requestID, data, err := readFrame(conn, *buf)
		if err != nil {
			t.buffers.Put(buf)
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				log.Warningf("closing connection from %s: %v", conn.RemoteAddr(), err)
			}
			break
		}

		workers <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				t.buffers.Put(buf)
				<-workers
				wg.Done()
			}()
			respond(shardID, requestID, data)
		}()
	}

	wg.Wait()
}
