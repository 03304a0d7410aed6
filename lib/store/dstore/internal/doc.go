// Package internal holds the wire format between the dstore client and its
// raft state machine.
//
// Commands are written to the raft log, so they use a compact binary encoding:
//
//	type u8 | now i64 | ttl i64 | keyLen u32 | key | expectedLen u32 | expected | value
//
// now is the proposer's wall clock. Replicas apply it as the logical time of
// the write, which keeps expiry identical on every node.
//
// Queries never leave the process (dragonboat passes them to Lookup as values)
// and are plain structs.
package internal
