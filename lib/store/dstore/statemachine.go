package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// Results of conditional commands, stored in sm.Result.Data
var (
	resultApplied = []byte{1}
	resultSkipped = []byte{0}
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage
}

// CreateStateMaschineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMaschineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.Errorf(store.RetCInternalError, "invalid Query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		val, ok := fsm.database.Get(q.Key, q.Now)
		return internal.QueryResult{
			Value: val,
			Ok:    ok,
		}, nil
	case internal.QueryTHas:
		if !fsm.database.SupportsFeature(db.FeatureHas) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Has operation is not supported")
		}
		return fsm.database.Has(q.Key, q.Now), nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.Errorf(store.RetCInvalidOperation, "unknown Query operation: %d", q.Type)
	}
}

// Update handles write commands on the KVDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	for idx := range entries {
		entries[idx].Result = fsm.apply(entries[idx].Cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes one serialized command and returns its raft result
func (fsm *KVStateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return failure(store.RetCInvalidOperation, "empty command ignored")
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return failure(store.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
	}

	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
	if !fsm.database.SupportsFeature(feat) {
		return failure(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", cmd.Type))
	}

	var applied bool
	switch cmd.Type {
	case internal.CommandTSet:
		fsm.database.Set(cmd.Key, cmd.Value, cmd.Now)
	case internal.CommandTSetE:
		fsm.database.SetE(cmd.Key, cmd.Value, cmd.Now, cmd.TTL)
	case internal.CommandTSetIfUnset:
		applied = fsm.database.SetEIfUnset(cmd.Key, cmd.Value, cmd.Now, cmd.TTL)
	case internal.CommandTCompareAndSwap:
		applied = fsm.database.CompareAndSwap(cmd.Key, cmd.Expected, cmd.Value, cmd.Now, cmd.TTL)
	case internal.CommandTDelete:
		fsm.database.Delete(cmd.Key, cmd.Now)
	case internal.CommandTFlush:
		fsm.database.Flush(cmd.Now)
	}

	res := sm.Result{Value: uint64(store.RetCSuccess)}
	if cmd.Type.Conditional() {
		res.Data = resultSkipped
		if applied {
			res.Data = resultApplied
		}
	}
	return res
}

func failure(code store.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the db from a snapshot
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
