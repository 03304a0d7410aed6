package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/db/engines/maple"
	"github.com/ValentinKolb/dCall/lib/metrics"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/lstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newStore() store.IStore {
	return lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
}

func marker(t *testing.T, s store.IStore, key string) (uint64, bool) {
	t.Helper()
	raw, ok, err := s.Get(context.Background(), MarkerKey(key))
	require.NoError(t, err)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	require.NoError(t, err)
	return v, true
}

// lostSwaps loses every compare-and-swap
type lostSwaps struct{ store.IStore }

func (lostSwaps) CompareAndSwap(context.Context, string, []byte, []byte, time.Duration) (bool, error) {
	return false, nil
}

// brokenStore fails every operation
type brokenStore struct{ store.IStore }

var errDown = store.NewError(store.RetCUnavailable, "connection refused")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

func TestFirstWriterStartsAtVersionZero(t *testing.T) {
	s := newStore()
	c := NewVersioned(s, String())

	require.NoError(t, c.Put(context.Background(), "k", "v1"))

	v, ok := marker(t, s, "k")
	require.True(t, ok)
	assert.Equal(t, uint64(0), v)
	local, ok := c.Version("k")
	require.True(t, ok)
	assert.Equal(t, uint64(0), local)
}

func TestPutThenGetSameInstance(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(newStore(), String())

	require.NoError(t, c.Put(ctx, "k", "v1"))
	require.NoError(t, c.Put(ctx, "k", "v2"))

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)

	version, _ := c.Version("k")
	assert.Equal(t, uint64(1), version)
}

func TestSecondInstanceSeesLatestValue(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := NewVersioned(s, String())
	b := NewVersioned(s, String())

	require.NoError(t, a.Put(ctx, "k", "v1"))
	require.NoError(t, a.Put(ctx, "k", "v2"))

	value, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)

	version, _ := b.Version("k")
	assert.Equal(t, uint64(1), version)
}

func TestPutConflictWhenDistributedIsAhead(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := NewVersioned(s, String())
	b := NewVersioned(s, String())

	require.NoError(t, a.Put(ctx, "k", "v1"))
	_, _, err := b.Get(ctx, "k") // b adopts version 0
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, "k", "v2")) // distributed moves to 1

	err = b.Put(ctx, "k", "mine")
	require.ErrorIs(t, err, ErrConflict)

	// local tier untouched
	version, _ := b.Version("k")
	assert.Equal(t, uint64(0), version)
	v, _ := marker(t, s, "k")
	assert.Equal(t, uint64(1), v)

	// after catching up the write goes through
	value, _, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
	require.NoError(t, b.Put(ctx, "k", "mine"))
	v, _ = marker(t, s, "k")
	assert.Equal(t, uint64(2), v)
}

func TestCASExhaustionLeavesLocalUntouched(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCacheMetrics(reg)
	require.NoError(t, err)

	c := NewVersioned[string](lostSwaps{newStore()}, String(), WithName("lost"), WithMaxCASAttempts(3), WithMetrics(m))
	require.NoError(t, c.Put(ctx, "k", "v1")) // first writer does not need a swap

	err = c.Put(ctx, "k", "v2")
	require.ErrorIs(t, err, ErrCASExhausted)

	version, _ := c.Version("k")
	assert.Equal(t, uint64(0), version)
	value, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", value)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter("lost", metrics.CacheExhaust)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Counter("lost", metrics.CacheCASRetry)))
}

func TestConcurrentPutsAdvanceVersionBySuccesses(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	seed := NewVersioned(s, String())
	require.NoError(t, seed.Put(ctx, "k", "seed"))
	start, _ := marker(t, s, "k")

	const writers = 8
	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		c := NewVersioned(s, String(), WithMaxCASAttempts(writers))
		_, _, err := c.Get(ctx, "k") // every writer starts at the same version
		require.NoError(t, err)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := c.Put(ctx, "k", "w"+strconv.Itoa(i))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrConflict), errors.Is(err, ErrCASExhausted):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	final, _ := marker(t, s, "k")
	assert.Positive(t, successes.Load())
	assert.Equal(t, start+uint64(successes.Load()), final)
}

func TestSameInstanceConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := NewVersioned(s, String(), WithMaxCASAttempts(20))
	require.NoError(t, c.Put(ctx, "k", "seed"))

	var wg sync.WaitGroup
	var successes atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Put(ctx, "k", strconv.Itoa(i)); err == nil {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	final, _ := marker(t, s, "k")
	assert.Equal(t, uint64(successes.Load()), final)
	local, _ := c.Version("k")
	assert.Equal(t, final, local, "local tier keeps the highest committed version")
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

func TestGetMiss(t *testing.T) {
	c := NewVersioned(newStore(), String())
	_, ok, err := c.Get(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetPushesWhenMarkerIsGone(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := NewVersioned(s, String())

	require.NoError(t, c.Put(ctx, "k", "v1"))
	require.NoError(t, c.Put(ctx, "k", "v2"))
	require.NoError(t, s.Flush(ctx))

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)

	v, ok := marker(t, s, "k")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
	raw, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "v2", string(raw))
}

func TestGetPushesWhenLocalIsNewer(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := NewVersioned(s, String())

	require.NoError(t, c.Put(ctx, "k", "v1"))
	require.NoError(t, c.Put(ctx, "k", "v2"))
	require.NoError(t, c.Put(ctx, "k", "v3"))
	// roll the distributed copy back
	require.NoError(t, s.Set(ctx, MarkerKey("k"), []byte("0")))
	require.NoError(t, s.Set(ctx, "k", []byte("v1")))

	value, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v3", value)

	v, _ := marker(t, s, "k")
	assert.Equal(t, uint64(2), v)
	raw, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "v3", string(raw))
}

func TestPullOfMissingValueDropsLocal(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := NewVersioned(s, String())
	b := NewVersioned(s, String())

	require.NoError(t, a.Put(ctx, "k", "v1"))
	_, _, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, "k", "v2"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = b.Version("k")
	assert.False(t, ok, "stale local entry should be dropped")
}

func TestEvictForcesPull(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCacheMetrics(reg)
	require.NoError(t, err)
	c := NewVersioned(newStore(), JSON[map[string]int](), WithName("evict"), WithMetrics(m))

	require.NoError(t, c.Put(ctx, "k", map[string]int{"a": 1}))
	_, _, err = c.Get(ctx, "k")
	require.NoError(t, err)
	c.Evict("k")
	assert.Zero(t, c.Len())

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, value)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter("evict", metrics.CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter("evict", metrics.CachePull)))
}

func TestTransportErrors(t *testing.T) {
	c := NewVersioned[string](brokenStore{newStore()}, String())

	_, _, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCUnavailable})

	err = c.Put(context.Background(), "k", "v")
	require.ErrorIs(t, err, ErrTransport)
	_, ok := c.Version("k")
	assert.False(t, ok)
}

func TestInvalidVersionMarker(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	require.NoError(t, s.Set(ctx, MarkerKey("k"), []byte("not-a-number")))

	_, _, err := NewVersioned(s, String()).Get(ctx, "k")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestTTLExpiresDistributedEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	a := NewVersioned(s, String(), WithTTL(50*time.Millisecond))
	require.NoError(t, a.Put(ctx, "k", "v"))

	require.Eventually(t, func() bool {
		_, ok := marker(t, s, "k")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// a second instance has nothing to pull
	_, ok, err := NewVersioned(s, String()).Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
