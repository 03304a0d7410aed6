// Package storetest provides a conformance suite for store.IStore
// implementations. Every implementation in this module runs it from its own
// package tests.
//
//	func TestStore(t *testing.T) {
//		storetest.RunIStoreTests(t, "local", func(t *testing.T) store.IStore {
//			return lstore.NewLocalStore(factory)
//		})
//	}
package storetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh store for one test. It may register cleanups on t.
type Factory func(t *testing.T) store.IStore

// RunIStoreTests runs the conformance suite for an IStore implementation.
func RunIStoreTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) { testSetGet(t, factory(t)) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
		t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory(t)) })
		t.Run("SetEIfUnset", func(t *testing.T) { testSetEIfUnset(t, factory(t)) })
		t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, factory(t)) })
		t.Run("ConcurrentCompareAndSwap", func(t *testing.T) { testConcurrentCAS(t, factory(t)) })
		t.Run("Flush", func(t *testing.T) { testFlush(t, factory(t)) })
		t.Run("Info", func(t *testing.T) { testInfo(t, factory(t)) })
	})
}

// key scopes a key to the running test, so suites can share one backend
func key(t *testing.T, k string) string {
	return t.Name() + "/" + k
}

func testSetGet(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "a")

	_, ok, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, k, []byte("one")))
	value, ok, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("one"), value)

	require.NoError(t, s.Set(ctx, k, []byte("two")))
	value, _, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)

	has, err := s.Has(ctx, k)
	require.NoError(t, err)
	assert.True(t, has)
}

func testDelete(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "a")

	require.NoError(t, s.Set(ctx, k, []byte("v")))
	require.NoError(t, s.Delete(ctx, k))

	has, err := s.Has(ctx, k)
	require.NoError(t, err)
	assert.False(t, has)

	// deleting an absent key is not an error
	require.NoError(t, s.Delete(ctx, key(t, "missing")))
}

func testExpiry(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "a")

	require.NoError(t, s.SetE(ctx, k, []byte("v"), 300*time.Millisecond))
	has, err := s.Has(ctx, k)
	require.NoError(t, err)
	assert.True(t, has)

	require.Eventually(t, func() bool {
		_, ok, err := s.Get(ctx, k)
		return err == nil && !ok
	}, 5*time.Second, 50*time.Millisecond, "entry did not expire")

	// ttl 0 means no expiry
	require.NoError(t, s.SetE(ctx, key(t, "b"), []byte("v"), 0))
	time.Sleep(400 * time.Millisecond)
	has, err = s.Has(ctx, key(t, "b"))
	require.NoError(t, err)
	assert.True(t, has)
}

func testSetEIfUnset(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "a")

	ok, err := s.SetEIfUnset(ctx, k, []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetEIfUnset(ctx, k, []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	value, _, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func testCompareAndSwap(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "a")

	ok, err := s.CompareAndSwap(ctx, k, []byte("0"), []byte("1"), 0)
	require.NoError(t, err)
	assert.False(t, ok, "absent key must not match")
	has, err := s.Has(ctx, k)
	require.NoError(t, err)
	assert.False(t, has, "failed swap must not create the key")

	require.NoError(t, s.Set(ctx, k, []byte("0")))
	ok, err = s.CompareAndSwap(ctx, k, []byte("7"), []byte("1"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, k, []byte("0"), []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	value, _, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)
}

func testConcurrentCAS(t *testing.T, s store.IStore) {
	ctx := context.Background()
	k := key(t, "counter")
	require.NoError(t, s.Set(ctx, k, []byte("0")))

	const workers, increments = 4, 25
	var wg sync.WaitGroup
	var failures atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; {
				current, _, err := s.Get(ctx, k)
				if err != nil {
					failures.Add(1)
					return
				}
				n, _ := strconv.Atoi(string(current))
				ok, err := s.CompareAndSwap(ctx, k, current, []byte(strconv.Itoa(n+1)), 0)
				if err != nil {
					failures.Add(1)
					return
				}
				if ok {
					i++
				}
			}
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	value, _, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*increments), string(value))
}

func testFlush(t *testing.T, s store.IStore) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, key(t, fmt.Sprint(i)), []byte("v")))
	}
	require.NoError(t, s.Flush(ctx))
	for i := 0; i < 10; i++ {
		has, err := s.Has(ctx, key(t, fmt.Sprint(i)))
		require.NoError(t, err)
		assert.False(t, has)
	}
}

func testInfo(t *testing.T, s store.IStore) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, key(t, "a"), []byte("v")))
	info, err := s.GetDBInfo(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.DbType)
	assert.GreaterOrEqual(t, info.Entries, 1)
}
