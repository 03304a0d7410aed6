// Package dstore implements store.IStore as a raft-replicated key-value store
// on top of Dragonboat.
//
// Components:
//
//   - Store client (store.go): serializes each write into an internal.Command,
//     proposes it with SyncPropose and turns the raft result back into an
//     error or, for conditional writes, a boolean. Reads go through SyncRead
//     (linearizable) except GetDBInfo, which uses StaleRead.
//
//   - State machine (statemachine.go): a Dragonboat IConcurrentStateMachine
//     that owns a db.KVDB and applies commands in log order.
//
// Time and expiry:
//
//	Every command carries the proposer's wall clock (unix nanoseconds). The
//	state machine hands it to the database as the logical time of the write,
//	and the database never lets its clock go backwards. All replicas therefore
//	apply the same ttl decisions, and SetEIfUnset/CompareAndSwap see the same
//	live entries everywhere. Reads carry the reader's clock; the database uses
//	whichever of the two is later.
//
// Conditional writes:
//
//	SetEIfUnset and CompareAndSwap report their outcome in the raft result
//	data (1 = applied). The version-checked cache builds its optimistic
//	concurrency on CompareAndSwap, which makes this store a valid shared tier
//	for several application instances.
//
// Retries and cancellation:
//
//	ErrSystemBusy is retried up to five times with a short pause. A single
//	raft round trip is bounded by the store timeout, the whole operation by the
//	caller's context. Timeouts and unready shards map to RetCUnavailable.
//
// Snapshots are fuzzy and delegate to db.KVDB Save/Load.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	err = nh.StartConcurrentReplica(members, false,
//		dstore.CreateStateMaschineFactory(dbFactory), shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
