package internal

import (
	"github.com/ValentinKolb/dCall/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (value with metadata)
// --------------------------------------------------------------------------

// Entry stores a value together with its expiry deadline
type Entry struct {
	Value    []byte // Payload
	Deadline int64  // Logical time (unix nanos) the entry expires at, 0 = never
}

// Live reports whether the entry is not expired at the given logical time
func (e Entry) Live(now int64) bool {
	return e.Deadline == 0 || now < e.Deadline
}

// DeadlineFor computes the deadline of an entry written at now with the given ttl
func DeadlineFor(now, ttl int64) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + ttl
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates an empty shard
func NewShard() *Shard {
	return &Shard{Data: xsync.NewMapOf[string, Entry]()}
}

// GetShard returns the appropriate shard for a given key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
