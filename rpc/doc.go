// Package rpc exposes stores of a cache node to version-checked caches
// running in other processes.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, configuration and logging.
//
//   - transport: the transport abstraction, with an HTTP implementation.
//
//   - serializer: Message encodings (binary, JSON, gob).
//
//   - server: serves local and raft-replicated stores by shard id.
//
//   - client: a store.IStore that forwards to a server.
package rpc
