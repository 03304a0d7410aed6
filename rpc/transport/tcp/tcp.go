package tcp

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport/base"
)

const (
	// DefaultBufferSize of the pooled server read buffers
	DefaultBufferSize = 512 * 1024
	// DefaultWorkersPerConn bounds the concurrent requests of one connection
	DefaultWorkersPerConn = 64

	keepAlivePeriod = 30 * time.Second
)

// address strips an optional tcp:// prefix from an endpoint
func address(endpoint string) string {
	return strings.TrimPrefix(endpoint, "tcp://")
}

type clientConnector struct{}

func (clientConnector) Name() string { return "tcp" }

func (clientConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	d := net.Dialer{KeepAlive: keepAlivePeriod}
	return d.DialContext(ctx, "tcp", address(endpoint))
}

type serverConnector struct{}

func (serverConnector) Name() string { return "tcp" }

func (serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", address(config.Endpoint))
}

// Upgrade disables Nagle's algorithm, requests are small and latency bound
func (serverConnector) Upgrade(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}
	return tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
}

// NewTCPClientTransport creates a client transport dialing tcp endpoints
// (host:port, optionally prefixed with tcp://)
func NewTCPClientTransport() *base.ClientTransport {
	return base.NewClientTransport(clientConnector{})
}

// NewTCPServerTransport creates a server transport listening on a tcp address
func NewTCPServerTransport() *base.ServerTransport {
	return base.NewServerTransport(serverConnector{}, DefaultBufferSize, DefaultWorkersPerConn)
}
