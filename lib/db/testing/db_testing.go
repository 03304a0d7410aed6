package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dCall/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Flush", func(t *testing.T) {
			testFlush(t, factory())
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory())
		})

		t.Run("Clock", func(t *testing.T) {
			testClock(t, factory())
		})

		t.Run("SetEIfUnset", func(t *testing.T) {
			testSetEIfUnset(t, factory())
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			testCompareAndSwap(t, factory())
		})

		t.Run("ConcurrentCompareAndSwap", func(t *testing.T) {
			testConcurrentCompareAndSwap(t, factory())
		})

		t.Run("GarbageCollect", func(t *testing.T) {
			testGarbageCollect(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1, 1)

	result, exists := database.Get(testKey, 1)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2, 2)

	result, exists = database.Get(testKey, 2)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = database.Get("nonexistent-key", 2); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey, 2)
	retrievedValue[0] = 'X'
	originalValue, _ := database.Get(testKey, 2)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	database.Set(testKey, []byte("delete-test-value"), 1)

	if _, exists := database.Get(testKey, 1); !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	database.Delete(testKey, 2)

	if _, exists := database.Get(testKey, 2); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}

	// deleting an absent key is a no-op
	database.Delete("nonexistent-key", 3)
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	if database.Has("has-key", 1) {
		t.Errorf("Expected Has to be false before Set")
	}
	database.Set("has-key", []byte("v"), 1)
	if !database.Has("has-key", 1) {
		t.Errorf("Expected Has to be true after Set")
	}
}

func testFlush(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas|db.FeatureFlush)

	for i := 0; i < 100; i++ {
		database.Set(fmt.Sprintf("flush-%d", i), []byte("v"), 1)
	}
	database.Flush(2)
	for i := 0; i < 100; i++ {
		if database.Has(fmt.Sprintf("flush-%d", i), 2) {
			t.Fatalf("Expected key flush-%d to be gone after Flush", i)
		}
	}
	if info := database.GetInfo(); info.Entries != 0 {
		t.Errorf("Expected 0 entries after Flush, got %d", info.Entries)
	}
}

func testKeyExpiry(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureHas)

	testKey := "expiring-key"
	testValue := []byte("expiring-value")

	database.SetE(testKey, testValue, 100, 10)

	result, exists := database.Get(testKey, 109)
	if !exists {
		t.Errorf("Key should still exist at time 109")
	}
	if !bytes.Equal(result, testValue) {
		t.Errorf("Expected value %s, got %s", testValue, result)
	}

	if _, exists = database.Get(testKey, 110); exists {
		t.Errorf("Key should have expired at time 110 (get)")
	}
	if database.Has(testKey, 110) {
		t.Errorf("Key should have expired at time 110 (has)")
	}

	// ttl = 0 never expires
	database.SetE("not-expiring-key", []byte("v"), 200, 0)
	if !database.Has("not-expiring-key", 1<<60) {
		t.Errorf("Key with TTL=0 should never expire")
	}

	// rewriting an entry resets its deadline
	database.SetE(testKey, testValue, 300, 10)
	database.SetE(testKey, testValue, 305, 10)
	if !database.Has(testKey, 312) {
		t.Errorf("Rewritten key should use the new deadline")
	}
}

func testClock(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureHas)

	database.SetE("clock-key", []byte("v"), 100, 10)

	// a write far in the future advances the clock
	database.Set("other-key", []byte("v"), 500)
	if database.Clock() != 500 {
		t.Errorf("Expected clock 500, got %d", database.Clock())
	}

	// reads with an older now are evaluated at the clock
	if database.Has("clock-key", 105) {
		t.Errorf("Key should be expired once the clock passed its deadline")
	}

	// the clock never goes backwards
	database.Set("third-key", []byte("v"), 10)
	if database.Clock() != 500 {
		t.Errorf("Clock went backwards: %d", database.Clock())
	}
}

func testSetEIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetEIfUnset|db.FeatureGet)

	if !database.SetEIfUnset("unset-key", []byte("first"), 1, 0) {
		t.Errorf("SetEIfUnset should write an absent key")
	}
	if database.SetEIfUnset("unset-key", []byte("second"), 2, 0) {
		t.Errorf("SetEIfUnset should not overwrite a present key")
	}
	if value, _ := database.Get("unset-key", 2); string(value) != "first" {
		t.Errorf("Expected value first, got %s", value)
	}

	// expired keys count as unset
	database.SetE("ttl-key", []byte("old"), 10, 5)
	if !database.SetEIfUnset("ttl-key", []byte("new"), 20, 0) {
		t.Errorf("SetEIfUnset should write an expired key")
	}
	if value, _ := database.Get("ttl-key", 20); string(value) != "new" {
		t.Errorf("Expected value new, got %s", value)
	}
}

func testCompareAndSwap(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureCompareAndSwap|db.FeatureSet|db.FeatureGet)

	if database.CompareAndSwap("cas-key", nil, []byte("v"), 1, 0) {
		t.Errorf("CompareAndSwap must not match an absent key")
	}
	if database.Has("cas-key", 1) {
		t.Errorf("CompareAndSwap must not create an absent key")
	}

	database.Set("cas-key", []byte("1"), 1)
	if database.CompareAndSwap("cas-key", []byte("0"), []byte("2"), 2, 0) {
		t.Errorf("CompareAndSwap should fail on a mismatching value")
	}
	if !database.CompareAndSwap("cas-key", []byte("1"), []byte("2"), 3, 0) {
		t.Errorf("CompareAndSwap should succeed on a matching value")
	}
	if value, _ := database.Get("cas-key", 3); string(value) != "2" {
		t.Errorf("Expected value 2, got %s", value)
	}

	// expired keys never match
	database.SetE("cas-ttl", []byte("1"), 10, 5)
	if database.CompareAndSwap("cas-ttl", []byte("1"), []byte("2"), 20, 0) {
		t.Errorf("CompareAndSwap must not match an expired key")
	}
}

func testConcurrentCompareAndSwap(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureCompareAndSwap|db.FeatureSet|db.FeatureGet)

	database.Set("counter", []byte("0"), 1)

	const workers, increments = 8, 200
	var wg sync.WaitGroup
	var successes atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; {
				current, _ := database.Get("counter", 1)
				var n int
				fmt.Sscan(string(current), &n)
				if database.CompareAndSwap("counter", current, []byte(fmt.Sprint(n+1)), 1, 0) {
					successes.Add(1)
					i++
				}
			}
		}()
	}
	wg.Wait()

	value, _ := database.Get("counter", 1)
	expected := fmt.Sprint(workers * increments)
	if string(value) != expected || successes.Load() != workers*increments {
		t.Errorf("Expected counter %s, got %s (%d successes)", expected, value, successes.Load())
	}
}

func testGarbageCollect(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGarbageCollect)

	for i := 0; i < 100; i++ {
		database.SetE(fmt.Sprintf("gc-%d", i), []byte("v"), 1000, int64(i%10+1))
	}
	database.Set("gc-keep", []byte("v"), 1000)

	// ttl 1..5 expire at or before 1005
	removed := database.GarbageCollect(1005)
	if info := database.GetInfo(); info.Entries != 51 {
		t.Errorf("Expected 51 entries after collecting at 1005, got %d (removed %d)", info.Entries, removed)
	}

	database.GarbageCollect(2000)
	if info := database.GetInfo(); info.Entries != 1 {
		t.Errorf("Expected only the non-expiring entry to survive, got %d entries", info.Entries)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	requireFeature(t, database, db.FeatureSave|db.FeatureLoad|db.FeatureSetE|db.FeatureGet)

	for i := 0; i < 1000; i++ {
		database.Set(fmt.Sprintf("save-%d", i), []byte(fmt.Sprintf("value-%d", i)), 100)
	}
	database.SetE("save-ttl", []byte("v"), 100, 50)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i := 0; i < 1000; i++ {
		value, ok := restored.Get(fmt.Sprintf("save-%d", i), 100)
		if !ok || string(value) != fmt.Sprintf("value-%d", i) {
			t.Fatalf("Entry save-%d was not restored", i)
		}
	}
	if restored.Clock() != database.Clock() {
		t.Errorf("Expected restored clock %d, got %d", database.Clock(), restored.Clock())
	}
	if !restored.Has("save-ttl", 149) || restored.Has("save-ttl", 150) {
		t.Errorf("Restored entry should keep its deadline")
	}

	if err := restored.Load(bytes.NewReader([]byte("garbage!"))); err == nil {
		t.Errorf("Load should reject an invalid snapshot")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("", []byte("empty-key"), 1)
	if value, ok := database.Get("", 1); !ok || string(value) != "empty-key" {
		t.Errorf("Empty key should be supported")
	}

	database.Set("empty-value", []byte{}, 1)
	if value, ok := database.Get("empty-value", 1); !ok || len(value) != 0 {
		t.Errorf("Empty value should be supported")
	}

	large := bytes.Repeat([]byte("x"), 1<<20)
	database.Set("large", large, 1)
	if value, ok := database.Get("large", 1); !ok || !bytes.Equal(value, large) {
		t.Errorf("Large value should round trip")
	}
}
