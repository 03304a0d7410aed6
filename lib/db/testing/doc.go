// Package testing holds the conformance suite and the benchmarks every db.KVDB
// engine has to pass. The stores of this module (lstore, the dstore state
// machine) rely on the semantics checked here: logical time driven expiry,
// SetEIfUnset on expired entries and CompareAndSwap on live entries only.
//
// Usage from an engine package:
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//
//	func TestMyEngine(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "MyEngine", factory)
//	}
//
//	func BenchmarkMyEngine(b *testing.B) {
//		dbtesting.RunKVDBBenchmarks(b, "MyEngine", factory)
//	}
package testing
