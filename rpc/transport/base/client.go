package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("transport/rpc")

const (
	// initialBackoff is the pause before the first retry, it doubles per attempt
	initialBackoff = 50 * time.Millisecond
	// defaultDialTimeout is used when the client has no timeout configured
	defaultDialTimeout = 5 * time.Second
)

var errClosed = errors.New("transport closed")

// IClientConnector opens connections for a concrete network (tcp, unix)
type IClientConnector interface {
	// Name returns the network name used in logs
	Name() string
	// Dial opens one connection to endpoint
	Dial(ctx context.Context, endpoint string) (net.Conn, error)
}

type response struct {
	data []byte
	err  error
}

// session is one open connection with the requests waiting on it. Requests
// are matched to their responses by request id, so many requests share it.
type session struct {
	conn    net.Conn
	pending *xsync.MapOf[uint64, chan response]
}

// clientConn is one connection slot, dialed again after its session broke
type clientConn struct {
	endpoint string
	parent   *ClientTransport

	mu   sync.Mutex // guards sess and serializes writes
	sess *session
}

// ClientTransport sends frames over a fixed set of connections, chosen round
// robin. A broken connection is dialed again by the next request using it.
type ClientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	conns     []*clientConn
	next      atomic.Uint64
	requestID atomic.Uint64
	closed    atomic.Bool
}

var _ transport.IRPCClientTransport = (*ClientTransport)(nil)

// NewClientTransport creates a client transport on top of connector
func NewClientTransport(connector IClientConnector) *ClientTransport {
	return &ClientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *ClientTransport) Connect(config common.ClientConfig) error {
	name := t.connector.Name()
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("%s transport: no endpoints configured", name)
	}
	t.closeConns()
	t.config = config
	t.closed.Store(false)

	dialTimeout := config.Timeout()
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	perEndpoint := max(config.ConnectionsPerEndpoint, 1)
	conns := make([]*clientConn, 0, len(config.Endpoints)*perEndpoint)
	connected := 0
	for _, endpoint := range config.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := &clientConn{endpoint: endpoint, parent: t}
			if err := c.dial(ctx); err != nil {
				log.Warningf("failed to connect to %s (connection %d/%d): %v", endpoint, i+1, perEndpoint, err)
			} else {
				connected++
			}
			conns = append(conns, c)
		}
	}
	t.conns = conns
	if connected == 0 {
		t.closeConns()
		return fmt.Errorf("%s transport: failed to connect to any endpoint", name)
	}

	log.Infof("connected %d of %d connections to %d endpoints using %s transport",
		connected, len(conns), len(config.Endpoints), name)
	return nil
}

// Send writes req on the next connection and waits for the matching response.
// A failed attempt is retried on the next connection with exponential backoff
// until RetryCount attempts are used or ctx is done.
func (t *ClientTransport) Send(ctx context.Context, shardID uint64, req []byte) ([]byte, error) {
	if t.closed.Load() || len(t.conns) == 0 {
		return nil, fmt.Errorf("%s transport: %w", t.connector.Name(), errClosed)
	}

	attempts := max(t.config.RetryCount, 1)
	backoff := initialBackoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c := t.conns[t.next.Add(1)%uint64(len(t.conns))]
		data, err := t.attempt(ctx, c, shardID, req)
		if err == nil {
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		log.Debugf("request to %s failed (%d/%d): %v", c.endpoint, i+1, attempts, err)
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *ClientTransport) Close() error {
	t.closed.Store(true)
	t.closeConns()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// attempt bounds one round trip by the configured timeout
func (t *ClientTransport) attempt(ctx context.Context, c *clientConn, shardID uint64, req []byte) ([]byte, error) {
	if timeout := t.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	data, err := c.roundTrip(ctx, shardID, req)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("request to %s timed out", c.endpoint)
	}
	return data, err
}

func (t *ClientTransport) closeConns() {
	for _, c := range t.conns {
		c.close()
	}
}

// dial connects c unless it is connected already
func (c *clientConn) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parent.closed.Load() {
		return errClosed
	}
	if c.sess != nil {
		return nil
	}
	conn, err := c.parent.connector.Dial(ctx, c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	c.sess = &session{conn: conn, pending: xsync.NewMapOf[uint64, chan response]()}
	go c.readResponses(c.sess)
	return nil
}

func (c *clientConn) roundTrip(ctx context.Context, shardID uint64, req []byte) ([]byte, error) {
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	requestID := c.parent.requestID.Add(1)
	respCh := make(chan response, 1)

	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection to %s is closed", c.endpoint)
	}
	sess.pending.Store(requestID, respCh)
	defer sess.pending.Delete(requestID)
	deadline, _ := ctx.Deadline()
	_ = sess.conn.SetWriteDeadline(deadline)
	err := writeFrame(sess.conn, shardID, requestID, req)
	c.mu.Unlock()
	if err != nil {
		c.drop(sess, err)
		return nil, fmt.Errorf("write to %s: %w", c.endpoint, err)
	}

	select {
	case r := <-respCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readResponses hands every response of sess to its waiting request. It stops
// when the connection fails, failing all requests still waiting on it.
func (c *clientConn) readResponses(sess *session) {
	for {
		shardID, requestID, data, err := readFrame(sess.conn, nil)
		if err != nil {
			c.drop(sess, err)
			return
		}
		if respCh, ok := sess.pending.LoadAndDelete(requestID); ok {
			respCh <- response{data: data}
		} else {
			log.Debugf("dropping response %d for shard %d from %s, nobody is waiting", requestID, shardID, c.endpoint)
		}
	}
}

// drop closes a failed session so the next request dials again
func (c *clientConn) drop(sess *session, cause error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		if !c.parent.closed.Load() {
			log.Warningf("connection to %s lost: %v", c.endpoint, cause)
		}
	}
	c.mu.Unlock()
	_ = sess.conn.Close()

	err := fmt.Errorf("connection to %s lost: %w", c.endpoint, cause)
	sess.pending.Range(func(id uint64, _ chan response) bool {
		if respCh, ok := sess.pending.LoadAndDelete(id); ok {
			respCh <- response{err: err}
		}
		return true
	})
}

func (c *clientConn) close() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.conn.Close()
	}
}
