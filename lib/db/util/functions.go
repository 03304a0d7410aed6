package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the hashed form of a string key
type UintKey uint64

// HashString hashes s with FNV-1a, mixing in the seed so that two databases
// place the same key in different shards
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return UintKey(hash)
}

// ShardOf maps a string key onto one of n shards using a fixed seed. Callers
// that need the same placement across processes (e.g. raft shard routing) use
// this instead of a per-instance seed.
func ShardOf(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(uint64(HashString(key, 0)) % uint64(n))
}
