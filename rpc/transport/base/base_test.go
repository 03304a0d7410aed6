package base

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tcpConnector struct{}

func (tcpConnector) Name() string { return "test" }

func (tcpConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

func (tcpConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}

func (tcpConnector) Upgrade(net.Conn) error { return nil }

// startEcho serves a handler answering "<shard>:<request>"
func startEcho(t *testing.T, handler func(ctx context.Context, shardID uint64, req []byte) []byte) (*ServerTransport, string) {
	t.Helper()
	srv := NewServerTransport(tcpConnector{}, 16, 4)
	srv.RegisterHandler(handler)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0"}) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		assert.NoError(t, <-errCh)
	})
	return srv, srv.Addr().String()
}

func echo(_ context.Context, shardID uint64, req []byte) []byte {
	return append(binary.BigEndian.AppendUint64(nil, shardID), req...)
}

func newClient(t *testing.T, endpoint string) *ClientTransport {
	t.Helper()
	c := NewClientTransport(tcpConnector{})
	require.NoError(t, c.Connect(common.ClientConfig{Endpoints: []string{endpoint}, TimeoutSecond: 2, RetryCount: 2}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() { _ = writeFrame(client, 7, 42, []byte("payload")) }()
	shardID, requestID, data, err := readFrame(server, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), shardID)
	assert.Equal(t, uint64(42), requestID)
	assert.Equal(t, "payload", string(data))
}

func TestFrameAboveLimitIsRejected(t *testing.T) {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[16:], MaxFrameSize+1)
	_, _, _, err := readFrame(bytes.NewReader(header[:]), nil)
	assert.Error(t, err)
}

// Requests larger than the pooled buffer are read into their own slice
func TestSendLargerThanServerBuffer(t *testing.T) {
	_, endpoint := startEcho(t, echo)
	c := newClient(t, endpoint)

	req := bytes.Repeat([]byte("x"), 1024)
	resp, err := c.Send(context.Background(), 3, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(resp[:8]))
	assert.Equal(t, req, resp[8:])
}

func TestBrokenConnectionIsDialedAgain(t *testing.T) {
	_, endpoint := startEcho(t, echo)
	c := newClient(t, endpoint)

	_, err := c.Send(context.Background(), 1, []byte("a"))
	require.NoError(t, err)

	c.conns[0].close()
	resp, err := c.Send(context.Background(), 1, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(resp[8:]))
}

func TestSendHonoursContext(t *testing.T) {
	release := make(chan struct{})
	_, endpoint := startEcho(t, func(ctx context.Context, shardID uint64, req []byte) []byte {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return req
	})
	defer close(release)
	c := newClient(t, endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, 1, []byte("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendAfterCloseFails(t *testing.T) {
	_, endpoint := startEcho(t, echo)
	c := newClient(t, endpoint)
	require.NoError(t, c.Close())

	_, err := c.Send(context.Background(), 1, []byte("a"))
	assert.ErrorIs(t, err, errClosed)
}

func TestShutdownWaitsForRunningRequests(t *testing.T) {
	started := make(chan struct{})
	srv, endpoint := startEcho(t, func(ctx context.Context, shardID uint64, req []byte) []byte {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return req
	})
	c := newClient(t, endpoint)

	respCh := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), 1, []byte("a"))
		respCh <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-respCh)
}
