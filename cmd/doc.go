// Package cmd implements the dcall command-line interface. It provides a
// hierarchical command structure for running a cache node and for using the
// dispatcher and the cache as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a cache node (rpc server with local or raft shards, /metrics)
//   - cache: Version-checked cache operations against a cache node (get, put, version, perf)
//   - dispatch: Routing document checks, synthetic load and single HTTP or SQL calls
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as DCALL_<flag>, .env and
// .env.local are loaded on start.
//
// See dcall -help for a list of all commands.
package cmd
