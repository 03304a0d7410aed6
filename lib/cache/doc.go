// Package cache implements a two-tier cache: a local in-process map kept
// coherent with a distributed store.IStore through a per-key version counter.
//
// For every key the distributed store holds two entries, the encoded value
// under key and a decimal version under key + ".version" (the marker). The
// local tier keeps the decoded value together with the version it belongs to.
//
// Reads probe the marker and compare it with the local version. Equal versions
// are served locally, a newer distributed version is pulled, and a newer (or
// only) local copy is pushed back to repair the distributed store. Versions are
// never merged, the higher one wins wholesale.
//
// Writes use optimistic concurrency. The marker is advanced with
// compare-and-swap, a bounded number of times, and the value is only written
// after the swap succeeded. A writer that finds the marker ahead of its own
// version fails with ErrConflict instead of overwriting a change it has not
// seen:
//
//	c := cache.NewVersioned(s, cache.JSON[User](), cache.WithName("users"))
//	if err := c.Put(ctx, "user:1", u); errors.Is(err, cache.ErrConflict) {
//		_, _, _ = c.Get(ctx, "user:1") // adopt the newer version, then retry
//	}
//
// The protocol tolerates brief staleness between instances. It does not make
// the pair (marker, value) atomic: a reader may pull a value that is one write
// behind its marker and catches up on the next change.
//
// Namespaced adds O(1) invalidation of a whole key space by versioning a key
// prefix.
package cache
