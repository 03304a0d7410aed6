package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dCall/lib/metrics"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var log = logger.GetLogger("cache")

const (
	// VersionSuffix is appended to a key to form its version marker key
	VersionSuffix = ".version"

	// DefaultMaxCASAttempts bounds the compare-and-swap loop of Put
	DefaultMaxCASAttempts = 5
)

// Cache is a key-value cache with context-aware operations
type Cache[V any] interface {
	// Get returns the value of key and whether it was found
	Get(ctx context.Context, key string) (V, bool, error)
	// Put stores the value of key
	Put(ctx context.Context, key string, value V) error
	// Evict drops the local copy of key
	Evict(key string)
}

// MarkerKey returns the key of the version marker of key
func MarkerKey(key string) string {
	return key + VersionSuffix
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures a VersionedCache
type Option func(*options)

type options struct {
	name        string
	maxAttempts int
	ttl         time.Duration
	metrics     *metrics.CacheMetrics
}

// WithName sets the name used in logs and metric labels (default "default")
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxCASAttempts bounds the compare-and-swap attempts of Put. Values
// below one are ignored.
func WithMaxCASAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithTTL makes distributed entries (value and marker) expire after ttl.
// The local tier never expires on its own.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithMetrics counts cache outcomes
func WithMetrics(m *metrics.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// --------------------------------------------------------------------------
// Versioned cache
// --------------------------------------------------------------------------

// entry is the local copy of a key
type entry[V any] struct {
	value   V
	version uint64
}

// pulled is the result of a shared pull
type pulled[V any] struct {
	value V
	found bool
}

// VersionedCache keeps a local map coherent with a distributed store through a
// per-key version counter. The distributed store holds the encoded value under
// key and the decimal version under MarkerKey(key); the side with the higher
// version always wins wholesale.
type VersionedCache[V any] struct {
	store store.IStore
	codec Codec[V]
	opts  options

	local *xsync.MapOf[string, entry[V]]
	pulls singleflight.Group
}

var _ Cache[string] = (*VersionedCache[string])(nil)

// NewVersioned creates a version-checked cache on top of a distributed store
func NewVersioned[V any](s store.IStore, codec Codec[V], opts ...Option) *VersionedCache[V] {
	o := options{name: "default", maxAttempts: DefaultMaxCASAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	return &VersionedCache[V]{
		store: s,
		codec: codec,
		opts:  o,
		local: xsync.NewMapOf[string, entry[V]](),
	}
}

// Name returns the cache name
func (c *VersionedCache[V]) Name() string { return c.opts.name }

// Version returns the local version of key
func (c *VersionedCache[V]) Version(key string) (uint64, bool) {
	e, ok := c.local.Load(key)
	return e.version, ok
}

// Evict drops the local copy of key. The next Get pulls it again.
func (c *VersionedCache[V]) Evict(key string) {
	c.local.Delete(key)
}

// Len returns the number of locally cached keys
func (c *VersionedCache[V]) Len() int {
	return c.local.Size()
}

func (c *VersionedCache[V]) count(op string) {
	c.opts.metrics.Inc(c.opts.name, op)
}

func (c *VersionedCache[V]) transport(op, key string, err error) error {
	c.count(metrics.CacheError)
	return fmt.Errorf("%w: %s %q: %w", ErrTransport, op, key, err)
}

// remoteVersion reads the version marker of key
func (c *VersionedCache[V]) remoteVersion(ctx context.Context, key string) (uint64, bool, error) {
	raw, ok, err := c.store.Get(ctx, MarkerKey(key))
	if err != nil {
		return 0, false, c.transport("read version of", key, err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		c.count(metrics.CacheError)
		return 0, false, fmt.Errorf("%w: %q for key %q", ErrInvalidVersion, raw, key)
	}
	return v, true, nil
}

// commit stores a local entry unless a newer version is already present
func (c *VersionedCache[V]) commit(key string, value V, version uint64) {
	c.local.Compute(key, func(old entry[V], loaded bool) (entry[V], bool) {
		if loaded && old.version > version {
			return old, false
		}
		return entry[V]{value: value, version: version}, false
	})
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

// Get returns the value of key, reconciling the local and distributed copies:
//
//   - marker absent, local present: the local copy is pushed and returned
//   - marker absent, local absent: miss
//   - marker present, local absent or older: the value is pulled
//   - versions equal: the local value is returned
//   - local newer: the local copy is pushed and returned
//
// A failed push is logged, the local value is still returned.
func (c *VersionedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	remote, hasRemote, err := c.remoteVersion(ctx, key)
	if err != nil {
		return zero, false, err
	}
	local, hasLocal := c.local.Load(key)

	switch {
	case !hasRemote && !hasLocal:
		c.count(metrics.CacheMiss)
		return zero, false, nil
	case !hasRemote:
		c.push(ctx, key, local, nil)
		return local.value, true, nil
	case !hasLocal || remote > local.version:
		return c.pull(ctx, key, remote)
	case remote == local.version:
		c.count(metrics.CacheHit)
		return local.value, true, nil
	default:
		c.push(ctx, key, local, &remote)
		return local.value, true, nil
	}
}

// pull fetches the value of key at the given version into the local tier.
// Concurrent pulls of the same key share one store read.
func (c *VersionedCache[V]) pull(ctx context.Context, key string, version uint64) (V, bool, error) {
	var zero V
	sfKey := key + "@" + strconv.FormatUint(version, 10)

	res, err, _ := c.pulls.Do(sfKey, func() (any, error) {
		raw, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, c.transport("pull", key, err)
		}
		if !ok {
			// the marker outlived its value, the local copy is stale too
			c.local.Delete(key)
			return pulled[V]{}, nil
		}
		value, err := c.codec.Decode(raw)
		if err != nil {
			c.count(metrics.CacheError)
			return nil, fmt.Errorf("cache: pull %q: %w", key, err)
		}
		c.commit(key, value, version)
		return pulled[V]{value: value, found: true}, nil
	})
	if err != nil {
		return zero, false, err
	}

	p := res.(pulled[V])
	if !p.found {
		c.count(metrics.CacheMiss)
		return zero, false, nil
	}
	c.count(metrics.CachePull)
	return p.value, true, nil
}

// push repairs the distributed copy from the local one. expected is the
// marker version that was read, nil if the marker was absent. The marker is
// only moved if it still holds that version, so a concurrent newer write is
// never overwritten.
func (c *VersionedCache[V]) push(ctx context.Context, key string, local entry[V], expected *uint64) {
	raw, err := c.codec.Encode(local.value)
	if err != nil {
		c.count(metrics.CacheError)
		log.Warningf("cache %s: push %q: %v", c.opts.name, key, err)
		return
	}

	version := []byte(strconv.FormatUint(local.version, 10))
	var ok bool
	if expected == nil {
		ok, err = c.store.SetEIfUnset(ctx, MarkerKey(key), version, c.opts.ttl)
	} else {
		ok, err = c.store.CompareAndSwap(ctx, MarkerKey(key), []byte(strconv.FormatUint(*expected, 10)), version, c.opts.ttl)
	}
	if err != nil {
		c.count(metrics.CacheError)
		log.Warningf("cache %s: push marker %q: %v", c.opts.name, key, err)
		return
	}
	if !ok {
		log.Debugf("cache %s: push %q skipped, marker changed concurrently", c.opts.name, key)
		return
	}

	if err := c.store.SetE(ctx, key, raw, c.opts.ttl); err != nil {
		c.count(metrics.CacheError)
		log.Warningf("cache %s: push value %q: %v", c.opts.name, key, err)
		return
	}
	c.count(metrics.CachePush)
}

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

// Put stores value under key on both tiers.
//
// The first writer of a key creates the marker at version 0. Later writers
// move the marker from the version they read to the next one with
// compare-and-swap, re-reading it after every lost attempt. The value is
// written to the distributed store only after a successful swap, and the
// local tier is updated only after that.
//
// Put fails with ErrConflict if the distributed version is ahead of the local
// one when Put starts, and with ErrCASExhausted once all attempts are lost.
// In both cases the local tier is left unmodified.
func (c *VersionedCache[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("cache: put %q: %w", key, err)
	}

	local, hasLocal := c.local.Load(key)
	localVersion := uint64(0)
	if hasLocal {
		localVersion = local.version
	}

	remote, hasRemote, err := c.remoteVersion(ctx, key)
	if err != nil {
		return err
	}

	if !hasRemote {
		created, err := c.store.SetEIfUnset(ctx, MarkerKey(key), []byte("0"), c.opts.ttl)
		if err != nil {
			return c.transport("create version of", key, err)
		}
		if created {
			return c.write(ctx, key, value, raw, 0)
		}
		// lost the race for the first write, continue as a regular writer
		if remote, hasRemote, err = c.remoteVersion(ctx, key); err != nil {
			return err
		}
	} else if remote > localVersion {
		c.count(metrics.CacheConflict)
		return fmt.Errorf("%w: key %q at version %d, local %d", ErrConflict, key, remote, localVersion)
	}

	for attempt := 0; attempt < c.opts.maxAttempts; attempt++ {
		if attempt > 0 {
			c.count(metrics.CacheCASRetry)
			if remote, hasRemote, err = c.remoteVersion(ctx, key); err != nil {
				return err
			}
		}

		next := max(remote, localVersion) + 1
		var swapped bool
		if hasRemote {
			swapped, err = c.store.CompareAndSwap(ctx, MarkerKey(key),
				[]byte(strconv.FormatUint(remote, 10)), []byte(strconv.FormatUint(next, 10)), c.opts.ttl)
		} else {
			// the marker vanished (deleted or expired) between reads
			swapped, err = c.store.SetEIfUnset(ctx, MarkerKey(key), []byte(strconv.FormatUint(next, 10)), c.opts.ttl)
		}
		if err != nil {
			return c.transport("swap version of", key, err)
		}
		if swapped {
			return c.write(ctx, key, value, raw, next)
		}
	}

	c.count(metrics.CacheExhaust)
	return fmt.Errorf("%w: key %q after %d attempts", ErrCASExhausted, key, c.opts.maxAttempts)
}

// write stores the value of a won version and commits it locally
func (c *VersionedCache[V]) write(ctx context.Context, key string, value V, raw []byte, version uint64) error {
	if err := c.store.SetE(ctx, key, raw, c.opts.ttl); err != nil {
		return c.transport("write value of", key, err)
	}
	c.commit(key, value, version)
	return nil
}
