package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
	ImplRedis Implementation = "redis" // reported by store.redisstore
	ImplNATS  Implementation = "nats"  // reported by store.natsstore
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet            Feature = 1 << iota // Support for Set operations
	FeatureSetE                               // Support for SetE operations
	FeatureSetEIfUnset                        // Support for SetEIfUnset operations
	FeatureCompareAndSwap                     // Support for CompareAndSwap operations
	FeatureGet                                // Support for Get operations
	FeatureDelete                             // Support for Delete operations
	FeatureFlush                              // Support for Flush operations
	FeatureHas                                // Support for Has operations
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureGarbageCollect                     // Support for GarbageCollect operations
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureGet:
		return "Get"
	case FeatureSetE:
		return "SetE"
	case FeatureSetEIfUnset:
		return "SetEIfUnset"
	case FeatureCompareAndSwap:
		return "CompareAndSwap"
	case FeatureDelete:
		return "Delete"
	case FeatureFlush:
		return "Flush"
	case FeatureHas:
		return "Has"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	Entries           int            `json:"entries"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
//
// Every operation receives now, a logical timestamp in unix nanoseconds. The
// database keeps a monotonic clock: writes advance it to now, and every
// operation evaluates expiry against max(now, clock). Replicas that apply the
// same writes in the same order therefore agree on which entries are expired,
// no matter when their garbage collection runs.
//
// Expired entries behave exactly like absent ones for all operations.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry without expiry.
	Set(key string, value []byte, now int64)

	// SetE inserts or updates an entry that expires ttl nanoseconds after now.
	// A ttl of zero means no expiry.
	SetE(key string, value []byte, now int64, ttl int64)

	// SetEIfUnset inserts an entry only if the key is absent (or expired).
	// It reports whether the entry was written.
	SetEIfUnset(key string, value []byte, now int64, ttl int64) (ok bool)

	// CompareAndSwap replaces the value of a present key if it equals expected.
	// It reports whether the value was replaced. An absent key never matches.
	CompareAndSwap(key string, expected, value []byte, now int64, ttl int64) (ok bool)

	// Delete removes an entry.
	Delete(key string, now int64)

	// Flush removes all entries.
	Flush(now int64)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string, now int64) (value []byte, loaded bool)

	// Has checks whether a live entry exists for the key.
	Has(key string, now int64) (loaded bool)

	// --------------------------------------------------------------------------
	// Maintenance Operations
	// --------------------------------------------------------------------------

	// GarbageCollect advances the clock to now and removes expired entries.
	// It returns the number of removed entries.
	GarbageCollect(now int64) (removed int)

	// Clock returns the current logical clock.
	Clock() (now int64)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}
