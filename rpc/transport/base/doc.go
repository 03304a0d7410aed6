// Package base implements the framed rpc transport shared by the tcp and unix
// transports. The network specific parts (dialing, listening, socket options)
// are supplied by an IClientConnector or IServerConnector.
//
// Every message travels as one frame: the shard id, a request id and the
// payload length, followed by the payload. The request id lets a client keep
// many requests in flight on one connection and match the responses, which
// the server may send in any order.
//
// The client spreads requests round robin over ConnectionsPerEndpoint
// connections per endpoint and retries failed attempts with exponential
// backoff. A connection that breaks fails the requests waiting on it and is
// dialed again by the next request that picks it.
//
// The server handles the requests of a connection concurrently, bounded per
// connection, and reuses its read buffers through a sync.Pool.
package base
