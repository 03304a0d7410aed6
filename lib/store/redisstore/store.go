// Package redisstore implements store.IStore on Redis.
//
// Keys are stored under a prefix (default "dcall:") so that Flush and
// GetDBInfo only touch this store's keys. Expiry uses Redis' own PX ttl,
// SetEIfUnset maps to SET NX and CompareAndSwap runs as a Lua script, so every
// operation is a single atomic round trip.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithPrefix("orders:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to every key unless WithPrefix is used
const DefaultPrefix = "dcall:"

// scanBatch is the COUNT hint used when iterating the keyspace
const scanBatch = 512

// casScript swaps the value if it equals ARGV[1]. ARGV[3] is the ttl in ms (0 = none).
var casScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  if tonumber(ARGV[3]) > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  else
    redis.call('SET', KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements store.IStore backed by Redis.
type Store struct {
	client redis.Cmdable
	prefix string
}

var _ store.IStore = (*Store)(nil)

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap(ctx, s.client.Ping(ctx).Err())
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// ttl converts a store ttl to a redis expiration, rounding sub-millisecond ttls up
func ttl(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return max(d, time.Millisecond)
}

// wrap maps redis errors to store errors, context errors pass through
func (s *Store) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return store.NewError(store.RetCUnavailable, err.Error())
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.wrap(ctx, s.client.Set(ctx, s.key(key), value, 0).Err())
}

func (s *Store) SetE(ctx context.Context, key string, value []byte, d time.Duration) error {
	return s.wrap(ctx, s.client.Set(ctx, s.key(key), value, ttl(d)).Err())
}

func (s *Store) SetEIfUnset(ctx context.Context, key string, value []byte, d time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl(d)).Result()
	return ok, s.wrap(ctx, err)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte, d time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{s.key(key)}, expected, value, ttl(d).Milliseconds()).Int()
	if err != nil {
		return false, s.wrap(ctx, err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.wrap(ctx, s.client.Del(ctx, s.key(key)).Err())
}

func (s *Store) Flush(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(ctx, err)
	}
	return value, true, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	return n == 1, s.wrap(ctx, err)
}

func (s *Store) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	entries := 0
	err := s.scan(ctx, func(keys []string) error {
		entries += len(keys)
		return nil
	})
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	return db.DatabaseInfo{
		Entries:  entries,
		DbType:   db.ImplRedis,
		Metadata: map[string]string{"prefix": s.prefix},
	}, nil
}

// scan calls fn with every batch of keys under the prefix
func (s *Store) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return s.wrap(ctx, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return s.wrap(ctx, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
