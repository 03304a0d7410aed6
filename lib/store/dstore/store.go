package dstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	now     func() int64
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. timeout bounds a single raft round trip; the caller's context bounds the whole operation.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		now:     func() int64 { return time.Now().UnixNano() },
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// attemptCtx derives the context of a single raft round trip
func (s *storeImpl) attemptCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// backoff waits before the next retry, or returns the context error
func (s *storeImpl) backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout / 10):
		return nil
	}
}

// write serializes a Command and sends it via SyncPropose.
// It returns the raft result data on success.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) ([]byte, error) {
	cmd.Now = s.now()
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		actx, cancel := s.attemptCtx(ctx)
		res, err := s.nh.SyncPropose(actx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if err := s.backoff(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, dragonboat.ErrShardNotReady) {
				return nil, store.NewError(store.RetCUnavailable, err.Error())
			}
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, store.NewError(store.RetCUnavailable, "system busy")
}

// read is a generic helper function queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses SyncRead by default to query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
func read[R any](ctx context.Context, r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	q.Now = r.now()

	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var res interface{}
		var err error
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			actx, cancel := r.attemptCtx(ctx)
			res, err = r.nh.SyncRead(actx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if err := r.backoff(ctx); err != nil {
				return zero, err
			}
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, store.NewError(store.RetCUnavailable, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.Errorf(store.RetCInternalError, "unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCUnavailable, "system busy")
}

func conditional(data []byte, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return bytes.Equal(data, resultApplied), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.write(ctx, internal.Command{
		Type:  internal.CommandTSet,
		Key:   key,
		Value: value,
	})
	return err
}

func (s *storeImpl) SetE(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.write(ctx, internal.Command{
		Type:  internal.CommandTSetE,
		Key:   key,
		Value: value,
		TTL:   int64(ttl),
	})
	return err
}

func (s *storeImpl) SetEIfUnset(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return conditional(s.write(ctx, internal.Command{
		Type:  internal.CommandTSetIfUnset,
		Key:   key,
		Value: value,
		TTL:   int64(ttl),
	}))
}

func (s *storeImpl) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	return conditional(s.write(ctx, internal.Command{
		Type:     internal.CommandTCompareAndSwap,
		Key:      key,
		Expected: expected,
		Value:    value,
		TTL:      int64(ttl),
	}))
}

func (s *storeImpl) Delete(ctx context.Context, key string) error {
	_, err := s.write(ctx, internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
	return err
}

func (s *storeImpl) Flush(ctx context.Context) error {
	_, err := s.write(ctx, internal.Command{Type: internal.CommandTFlush})
	return err
}

func (s *storeImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) Has(ctx context.Context, key string) (bool, error) {
	return read[bool](ctx, s, internal.Query{
		Type: internal.QueryTHas,
		Key:  key,
	}, false)
}

func (s *storeImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		ctx,
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

func (s *storeImpl) String() string {
	return fmt.Sprintf("dstore(shard=%d)", s.shardID)
}
