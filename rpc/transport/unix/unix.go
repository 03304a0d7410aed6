package unix

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport/base"
)

const (
	// DefaultBufferSize of the pooled server read buffers
	DefaultBufferSize = 64 * 1024
	// DefaultWorkersPerConn bounds the concurrent requests of one connection
	DefaultWorkersPerConn = 64
)

// socketPath strips an optional unix:// prefix from an endpoint
func socketPath(endpoint string) string {
	return strings.TrimPrefix(endpoint, "unix://")
}

type clientConnector struct{}

func (clientConnector) Name() string { return "unix" }

func (clientConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socketPath(endpoint))
}

type serverConnector struct{}

func (serverConnector) Name() string { return "unix" }

// Listen removes a stale socket file left behind by a previous run
func (serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	path := socketPath(config.Endpoint)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	return net.Listen("unix", path)
}

func (serverConnector) Upgrade(net.Conn) error { return nil }

// NewUnixClientTransport creates a client transport dialing socket paths
func NewUnixClientTransport() *base.ClientTransport {
	return base.NewClientTransport(clientConnector{})
}

// NewUnixServerTransport creates a server transport listening on a socket path
func NewUnixServerTransport() *base.ServerTransport {
	return base.NewServerTransport(serverConnector{}, DefaultBufferSize, DefaultWorkersPerConn)
}
