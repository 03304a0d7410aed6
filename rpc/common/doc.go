// Package common holds what cache nodes and their clients share: the
// Message exchanged for every store operation, the server and client
// configuration, and the log format installed for dragonboat and dCall
// loggers.
//
// A Message carries the store error code next to the error text, so a
// client can rebuild the same *store.Error the remote store returned
// (see Message.Failure).
//
// ServerConfig also converts itself to the dragonboat NodeHost and replica
// configuration used by raft shards.
package common
