package lstore

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
)

type storeImpl struct {
	db  db.KVDB
	now func() int64

	closeOnce sync.Once
}

// Option configures a local store
type Option func(*storeImpl)

// WithClock replaces the wall clock used to timestamp operations (unix nanos).
func WithClock(now func() int64) Option {
	return func(s *storeImpl) { s.now = now }
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// This works by using the given db engine directly.
func NewLocalStore(factory store.DBFactory, opts ...Option) store.IStore {
	s := &storeImpl{
		db:  factory(),
		now: func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying database. It is safe to call more than once.
func (s *storeImpl) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}

// check returns an error if the context is done or the db lacks the feature
func (s *storeImpl) check(ctx context.Context, feature db.Feature) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.db.SupportsFeature(feature) {
		return store.Errorf(store.RetCUnsupportedOperation, "%s operation is not supported", feature)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx, db.FeatureSet); err != nil {
		return err
	}
	s.db.Set(key, value, s.now())
	return nil
}

func (s *storeImpl) SetE(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx, db.FeatureSetE); err != nil {
		return err
	}
	s.db.SetE(key, value, s.now(), int64(ttl))
	return nil
}

func (s *storeImpl) SetEIfUnset(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(ctx, db.FeatureSetEIfUnset); err != nil {
		return false, err
	}
	return s.db.SetEIfUnset(key, value, s.now(), int64(ttl)), nil
}

func (s *storeImpl) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(ctx, db.FeatureCompareAndSwap); err != nil {
		return false, err
	}
	return s.db.CompareAndSwap(key, expected, value, s.now(), int64(ttl)), nil
}

func (s *storeImpl) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, db.FeatureDelete); err != nil {
		return err
	}
	s.db.Delete(key, s.now())
	return nil
}

func (s *storeImpl) Flush(ctx context.Context) error {
	if err := s.check(ctx, db.FeatureFlush); err != nil {
		return err
	}
	s.db.Flush(s.now())
	return nil
}

func (s *storeImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(ctx, db.FeatureGet); err != nil {
		return nil, false, err
	}
	val, ok := s.db.Get(key, s.now())
	return val, ok, nil
}

func (s *storeImpl) Has(ctx context.Context, key string) (bool, error) {
	if err := s.check(ctx, db.FeatureHas); err != nil {
		return false, err
	}
	return s.db.Has(key, s.now()), nil
}

func (s *storeImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	if err := ctx.Err(); err != nil {
		return db.DatabaseInfo{}, err
	}
	return s.db.GetInfo(), nil
}
