// Package transport defines how serialized rpc messages travel between a
// cache node and its clients. Requests are addressed to a shard id, the
// payload is opaque to the transport.
//
// Implementations: transport/http (one POST per request), transport/tcp and
// transport/unix (framed, multiplexed connections built on transport/base).
package transport
