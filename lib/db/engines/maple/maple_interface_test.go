package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	dbtesting "github.com/ValentinKolb/dCall/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func TestSingleShard(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB(1 shard)", func() db.KVDB {
		return NewMapleDB(&DBOptions{NumShards: 1, GCInterval: -1})
	})
}

func TestBackgroundGC(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 2, GCInterval: 10 * time.Millisecond})
	defer database.Close()

	database.SetE("short", []byte("v"), 100, 10)
	database.Set("tick", []byte("v"), 200)

	deadline := time.Now().Add(2 * time.Second)
	for database.GetInfo().Entries != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("background GC did not collect the expired entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}
