// Package store defines IStore, the shared key–value contract the version-checked
// cache runs against, together with its typed error.
//
// The interface is deliberately small: plain writes with an optional ttl, an
// insert-if-absent, a compare-and-swap on present keys, reads and a flush.
// Every operation takes a context, because most implementations talk to a
// remote process.
//
// Implementations:
//
//   - lstore: a single-process store over a db.KVDB. Useful for tests and as
//     the storage of a cache node.
//   - dstore: a raft-replicated store built on dragonboat. Every write carries
//     the proposer's timestamp so replicas agree on expiry.
//   - redisstore: Redis via go-redis, compare-and-swap runs as a Lua script.
//   - natsstore: a NATS JetStream key-value bucket, compare-and-swap uses the
//     revision of the entry.
//   - rpc/client: a remote store served by "dcall serve".
//
// Errors are *Error values carrying a RetCode, so callers can tell an
// unsupported operation from an unreachable store:
//
//	var se *store.Error
//	if errors.As(err, &se) && se.Code == store.RetCUnavailable {
//		// retry later
//	}
//
// The conformance suite in storetest runs against every implementation.
package store
