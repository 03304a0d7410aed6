// Package maple implements db.KVDB as a sharded in-memory map.
//
// Keys are hashed with a per-instance seed and spread across a fixed number of
// shards, each an xsync.MapOf. Conditional writes (SetEIfUnset and
// CompareAndSwap) run inside the map's Compute callback, so they are atomic
// per key without a global lock.
//
// Expiry is driven by the logical clock the caller passes to every operation.
// The database remembers the largest time seen by a write and evaluates reads
// against max(now, clock). A background loop removes expired entries at the
// current clock; an entry that is expired but not yet collected already
// behaves as absent.
//
// Snapshots (Save/Load) use a small binary format:
//
//	"MAPLEDB\x00" | version u8 | clock i64 | count u64 |
//	{ keyLen u32 | key | deadline i64 | valueLen u32 | value }*
//
// Save is fuzzy: concurrent writes may or may not be included.
package maple
