package lstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/db/engines/maple"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaple() db.KVDB { return maple.NewMapleDB(nil) }

func TestLocalStore(t *testing.T) {
	storetest.RunIStoreTests(t, "lstore", func(t *testing.T) store.IStore {
		s := NewLocalStore(newMaple)
		t.Cleanup(func() { _ = s.(*storeImpl).Close() })
		return s
	})
}

func TestInjectedClock(t *testing.T) {
	var now int64 = 1000
	s := NewLocalStore(newMaple, WithClock(func() int64 { return now }))
	ctx := context.Background()

	require.NoError(t, s.SetE(ctx, "k", []byte("v"), 10))
	has, _ := s.Has(ctx, "k")
	assert.True(t, has)

	now = 1010
	has, _ = s.Has(ctx, "k")
	assert.False(t, has)
}

func TestCancelledContext(t *testing.T) {
	s := NewLocalStore(newMaple)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}

// limitedDB advertises only reads
type limitedDB struct{ db.KVDB }

func (limitedDB) SupportsFeature(f db.Feature) bool { return f == db.FeatureGet }

func TestUnsupportedFeature(t *testing.T) {
	s := NewLocalStore(func() db.KVDB { return limitedDB{maple.NewMapleDB(nil)} })

	err := s.Set(context.Background(), "k", []byte("v"))
	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, store.RetCUnsupportedOperation, se.Code)
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCUnsupportedOperation})

	_, _, err = s.Get(context.Background(), "k")
	assert.NoError(t, err)
}
