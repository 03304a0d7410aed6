// Package lstore implements store.IStore on top of a local db.KVDB.
//
// Every operation is stamped with the wall clock in unix nanoseconds (or the
// clock given with WithClock), which the engine uses as its logical time for
// expiry. Unsupported engine features surface as RetCUnsupportedOperation.
//
//	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
//	ok, err := s.SetEIfUnset(ctx, "user:1.version", []byte("0"), 0)
//
// The store is the backing of a single cache node and the in-process store
// used by tests. It is not replicated; see dstore for that.
package lstore
