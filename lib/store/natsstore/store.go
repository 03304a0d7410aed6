// Package natsstore implements store.IStore on a NATS JetStream key-value
// bucket.
//
// JetStream buckets have no per-key ttl, so every value is stored with an
// 8 byte big endian deadline header (unix nanos, 0 = never) and expired
// entries are treated as absent. Conditional writes use the entry revision:
// SetEIfUnset is a Create (or an Update of an expired entry), CompareAndSwap
// reads the entry and updates it at the revision it read. A concurrent writer
// makes the update fail, which is reported as "not swapped".
//
// Keys are base64url encoded because bucket keys are restricted to subject
// characters.
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	s, err := natsstore.Open(ctx, nc, "dcall")
package natsstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const headerSize = 8

// Option configures the Store.
type Option func(*Store)

// WithClock replaces the wall clock used for deadlines (unix nanos).
func WithClock(now func() int64) Option {
	return func(s *Store) { s.now = now }
}

// Store implements store.IStore backed by a JetStream key-value bucket.
type Store struct {
	kv  jetstream.KeyValue
	now func() int64
}

var _ store.IStore = (*Store)(nil)

// New wraps an existing bucket.
func New(kv jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{kv: kv, now: func() int64 { return time.Now().UnixNano() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open creates (or reuses) the bucket on the given connection.
func Open(ctx context.Context, nc *nats.Conn, bucket string, opts ...Option) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, store.NewError(store.RetCUnavailable, err.Error())
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "dcall shared cache tier",
		History:     1,
	})
	if err != nil {
		return nil, store.NewError(store.RetCUnavailable, err.Error())
	}
	return New(kv, opts...), nil
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

func encodeKey(key string) string {
	return "k" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *Store) encode(value []byte, ttl time.Duration) []byte {
	var deadline int64
	if ttl > 0 {
		deadline = s.now() + int64(ttl)
	}
	out := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(out, uint64(deadline))
	copy(out[headerSize:], value)
	return out
}

// decode returns the payload of a raw value and whether it is still live
func (s *Store) decode(raw []byte) ([]byte, bool) {
	if len(raw) < headerSize {
		return nil, false
	}
	deadline := int64(binary.BigEndian.Uint64(raw))
	if deadline != 0 && s.now() >= deadline {
		return nil, false
	}
	return raw[headerSize:], true
}

// entry loads a key; entry is nil if the key is absent
func (s *Store) entry(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	e, err := s.kv.Get(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return e, nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// wrap maps jetstream errors to store errors, context errors pass through
func wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return store.NewError(store.RetCUnavailable, err.Error())
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.SetE(ctx, key, value, 0)
}

func (s *Store) SetE(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.kv.Put(ctx, encodeKey(key), s.encode(value, ttl))
	return wrap(ctx, err)
}

func (s *Store) SetEIfUnset(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	e, err := s.entry(ctx, key)
	if err != nil {
		return false, err
	}

	if e == nil {
		_, err = s.kv.Create(ctx, encodeKey(key), s.encode(value, ttl))
	} else if _, live := s.decode(e.Value()); live {
		return false, nil
	} else {
		_, err = s.kv.Update(ctx, encodeKey(key), s.encode(value, ttl), e.Revision())
	}

	if isConflict(err) {
		return false, nil
	}
	return err == nil, wrap(ctx, err)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	e, err := s.entry(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	current, live := s.decode(e.Value())
	if !live || !bytes.Equal(current, expected) {
		return false, nil
	}

	_, err = s.kv.Update(ctx, encodeKey(key), s.encode(value, ttl), e.Revision())
	if isConflict(err) {
		return false, nil
	}
	return err == nil, wrap(ctx, err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return wrap(ctx, err)
}

func (s *Store) Flush(ctx context.Context) error {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return wrap(ctx, err)
	}
	defer lister.Stop()

	for k := range lister.Keys() {
		if err := s.kv.Purge(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return wrap(ctx, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := s.entry(ctx, key)
	if err != nil || e == nil {
		return nil, false, err
	}
	value, live := s.decode(e.Value())
	if !live {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	status, err := s.kv.Status(ctx)
	if err != nil {
		return db.DatabaseInfo{}, wrap(ctx, err)
	}
	return db.DatabaseInfo{
		Entries:   int(status.Values()),
		SizeBytes: int(status.Bytes()),
		DbType:    db.ImplNATS,
		Metadata:  map[string]string{"bucket": status.Bucket()},
	}, nil
}
