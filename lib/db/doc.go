// Package db defines the KVDB interface implemented by the embedded storage
// engines, together with the feature flags an engine uses to advertise what it
// supports.
//
// Time in this package is logical. Every call carries now (unix nanoseconds)
// and the engine keeps a monotonic clock that writes advance. A replicated
// store passes the proposer's timestamp with every command, so all replicas
// agree on expiry regardless of their wall clocks.
//
// Implementations live under engines/, the shared conformance suite and
// benchmarks under testing/.
package db
