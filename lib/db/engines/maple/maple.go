package maple

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dCall/lib/db/util"
)

// Constants for database behavior and structure
const (
	magicNum          = "MAPLEDB\x00"  // File format identifier
	mapleVersion      = 4              // Database version
	defaultGCInterval = 1 * time.Second // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data
type mapleImpl struct {
	seed   uint64            // Seed for hash function
	shards []*internal.Shard // Array of shards
	clock  atomic.Int64      // Logical clock (max now seen by a write)

	// garbage collection
	gcInterval time.Duration
	gcStop     chan struct{}
	gcDone     chan struct{}
	gcMu       sync.Mutex
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between GC runs (0 = default, negative = disabled)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	gcInterval := opts.GCInterval
	if gcInterval == 0 {
		gcInterval = defaultGCInterval
	}

	shards := make([]*internal.Shard, numShards)
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	maple := &mapleImpl{
		seed:       util.GenerateSeed(),
		shards:     shards,
		gcInterval: gcInterval,
	}
	maple.startGC()
	return maple
}

func (maple *mapleImpl) shard(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// tick advances the clock to now and returns the effective time of a write
//
// Thread-safety: This method is thread-safe, the clock only ever increases.
func (maple *mapleImpl) tick(now int64) int64 {
	for {
		curr := maple.clock.Load()
		if now <= curr {
			return curr
		}
		if maple.clock.CompareAndSwap(curr, now) {
			return now
		}
	}
}

// at returns the effective time of a read without advancing the clock
func (maple *mapleImpl) at(now int64) int64 {
	return max(now, maple.clock.Load())
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Write Operations
// --------------------------------------------------------------------------

func (maple *mapleImpl) Set(key string, value []byte, now int64) {
	maple.SetE(key, value, now, 0)
}

func (maple *mapleImpl) SetE(key string, value []byte, now int64, ttl int64) {
	now = maple.tick(now)
	maple.shard(key).Data.Store(key, internal.Entry{Value: value, Deadline: internal.DeadlineFor(now, ttl)})
}

func (maple *mapleImpl) SetEIfUnset(key string, value []byte, now int64, ttl int64) bool {
	now = maple.tick(now)
	written := false
	maple.shard(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded && old.Live(now) {
			return old, false
		}
		written = true
		return internal.Entry{Value: value, Deadline: internal.DeadlineFor(now, ttl)}, false
	})
	return written
}

func (maple *mapleImpl) CompareAndSwap(key string, expected, value []byte, now int64, ttl int64) bool {
	now = maple.tick(now)
	swapped := false
	maple.shard(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return old, true
		}
		if !old.Live(now) {
			// drop the expired entry while we hold the bucket
			return old, true
		}
		if !bytes.Equal(old.Value, expected) {
			return old, false
		}
		swapped = true
		return internal.Entry{Value: value, Deadline: internal.DeadlineFor(now, ttl)}, false
	})
	return swapped
}

func (maple *mapleImpl) Delete(key string, now int64) {
	maple.tick(now)
	maple.shard(key).Data.Delete(key)
}

func (maple *mapleImpl) Flush(now int64) {
	maple.tick(now)
	for _, s := range maple.shards {
		s.Data.Clear()
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Query Operations
// --------------------------------------------------------------------------

func (maple *mapleImpl) Get(key string, now int64) ([]byte, bool) {
	entry, ok := maple.shard(key).Data.Load(key)
	if !ok || !entry.Live(maple.at(now)) {
		return nil, false
	}
	return bytes.Clone(entry.Value), true
}

func (maple *mapleImpl) Has(key string, now int64) bool {
	_, ok := maple.Get(key, now)
	return ok
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// GarbageCollect advances the clock and removes every entry that is expired at
// the resulting time. Removal re-checks the deadline, so an entry rewritten in
// the meantime survives.
func (maple *mapleImpl) GarbageCollect(now int64) int {
	now = maple.tick(now)
	removed := 0
	for _, s := range maple.shards {
		var expired []string
		s.Data.Range(func(key string, entry internal.Entry) bool {
			if !entry.Live(now) {
				expired = append(expired, key)
			}
			return true
		})
		for _, key := range expired {
			s.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
				if loaded && !old.Live(now) {
					removed++
					return old, true
				}
				return old, !loaded
			})
		}
	}
	return removed
}

func (maple *mapleImpl) Clock() int64 {
	return maple.clock.Load()
}

// startGC collects expired entries in the background against the logical clock
func (maple *mapleImpl) startGC() {
	if maple.gcInterval < 0 {
		return
	}
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	maple.gcStop, maple.gcDone = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(maple.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				maple.GarbageCollect(maple.clock.Load())
			}
		}
	}()
}

func (maple *mapleImpl) stopGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop == nil {
		return
	}
	close(maple.gcStop)
	<-maple.gcDone
	maple.gcStop, maple.gcDone = nil, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer
//
// Thread-safety: Concurrent writes are allowed, the snapshot is fuzzy.
func (maple *mapleImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer
	clock := maple.clock.Load()

	type entryToSave struct {
		key   string
		entry internal.Entry
	}
	var entries []entryToSave
	for _, s := range maple.shards {
		s.Data.Range(func(key string, entry internal.Entry) bool {
			if entry.Live(clock) {
				entries = append(entries, entryToSave{key, entry})
			}
			return true
		})
	}

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	header := []any{uint8(mapleVersion), clock, uint64(len(entries))}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, item := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(item.key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Deadline); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.entry.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(item.entry.Value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load replaces the database content with the data from the reader
//
// Thread-safety: This function must not be called concurrently with other operations
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != mapleVersion {
		return fmt.Errorf("unsupported maple version %d (expected %d)", version, mapleVersion)
	}

	var clock int64
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &clock); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := make([]*internal.Shard, len(maple.shards))
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}
		var entry internal.Entry
		if err := binary.Read(br, binary.LittleEndian, &entry.Deadline); err != nil {
			return err
		}
		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		entry.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(br, entry.Value); err != nil {
			return err
		}
		k := string(key)
		internal.GetShard(util.HashString(k, maple.seed), shards).Data.Store(k, entry)
	}

	maple.shards = shards
	maple.clock.Store(clock)
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	entries, sizeBytes := 0, 0
	minShard, maxShard := -1, 0
	for _, s := range maple.shards {
		n := s.Data.Size()
		entries += n
		if minShard < 0 || n < minShard {
			minShard = n
		}
		maxShard = max(maxShard, n)
		s.Data.Range(func(key string, entry internal.Entry) bool {
			sizeBytes += len(key) + len(entry.Value) + 8 // 8 bytes deadline
			return true
		})
	}

	meta := &struct {
		Clock        int64 `json:"clock"`
		ShardCount   int   `json:"shard_count"`
		MinShardSize int   `json:"min_shard_size"`
		MaxShardSize int   `json:"max_shard_size"`
	}{
		Clock:        maple.clock.Load(),
		ShardCount:   len(maple.shards),
		MinShardSize: minShard,
		MaxShardSize: maxShard,
	}

	return db.DatabaseInfo{
		Entries:   entries,
		SizeBytes: sizeBytes,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureSet, db.FeatureSetE, db.FeatureSetEIfUnset, db.FeatureCompareAndSwap,
			db.FeatureGet, db.FeatureHas, db.FeatureDelete, db.FeatureFlush,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSet |
		db.FeatureSetE |
		db.FeatureSetEIfUnset |
		db.FeatureCompareAndSwap |
		db.FeatureGet |
		db.FeatureDelete |
		db.FeatureFlush |
		db.FeatureHas |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}
