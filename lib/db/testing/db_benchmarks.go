package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dCall/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetWithExpiry", func(b *testing.B) {
		benchmarkSetWithExpiry(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("CompareAndSwap", func(b *testing.B) {
		benchmarkCompareAndSwap(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// now hands out increasing logical timestamps across goroutines
var now atomic.Int64

func benchmarkSet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet)

	value := []byte("benchmark-value")
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Set(fmt.Sprintf("key-%d", counter), value, now.Add(1))
			counter++
		}
	})
}

func benchmarkSetWithExpiry(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSetE)

	value := []byte("benchmark-value")
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.SetE(fmt.Sprintf("key-%d", counter), value, now.Add(1), 1000)
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureGet)

	const numKeys = 10000
	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		database.Set(keys[i], []byte("benchmark-value"), 1)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			database.Get(keys[r.Intn(numKeys)], 1)
		}
	})
}

func benchmarkCompareAndSwap(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureCompareAndSwap)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		database.Set(fmt.Sprintf("key-%d", i), []byte("a"), 1)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			if !database.CompareAndSwap(key, []byte("a"), []byte("b"), 1, 0) {
				database.CompareAndSwap(key, []byte("b"), []byte("a"), 1, 0)
			}
		}
	})
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 100000; i++ {
		database.Set(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 1)
	}
	var snapshot bytes.Buffer
	if err := database.Save(&snapshot); err != nil {
		b.Fatal(err)
	}

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := database.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete|db.FeatureSetEIfUnset)

	const numKeys = 10000
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			ts := now.Add(1)
			switch op := r.Intn(100); {
			case op < 70:
				database.Get(key, ts)
			case op < 85:
				database.Set(key, []byte("value"), ts)
			case op < 95:
				database.SetEIfUnset(key, []byte("value"), ts, 1000)
			default:
				database.Delete(key, ts)
			}
		}
	})
}
