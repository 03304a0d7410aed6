package transport

import (
	"context"

	"github.com/ValentinKolb/dCall/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one request for a shard and returns the response.
// ctx is cancelled when the caller goes away.
type ServerHandleFunc func(ctx context.Context, shardID uint64, req []byte) (resp []byte)

// IRPCServerTransport receives requests and routes them to the handler
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every request
	RegisterHandler(handler ServerHandleFunc)
	// Listen serves requests until Shutdown is called
	Listen(config common.ServerConfig) error
	// Shutdown stops accepting requests and waits for running ones
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport sends requests to cache nodes
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a shard and returns the response
	Send(ctx context.Context, shardID uint64, req []byte) (resp []byte, err error)
	// Close releases all connections
	Close() error
}
