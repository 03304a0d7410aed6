package cache

import (
	"context"
	"strconv"
	"sync"
)

// Namespaced prefixes every key of an inner cache with namespace + version + ":".
// Clear bumps the version, which makes every earlier key unreachable without
// deleting anything. Orphaned entries are left to the store's own expiry.
type Namespaced[V any] struct {
	inner     Cache[V]
	namespace string

	mu      sync.RWMutex
	version uint64
	prefix  string
}

var _ Cache[string] = (*Namespaced[string])(nil)

// NewNamespaced wraps inner under the given namespace, starting at version 0
func NewNamespaced[V any](inner Cache[V], namespace string) *Namespaced[V] {
	n := &Namespaced[V]{inner: inner, namespace: namespace}
	n.prefix = n.build(0)
	return n
}

func (n *Namespaced[V]) build(version uint64) string {
	return n.namespace + strconv.FormatUint(version, 10) + ":"
}

// Prefix returns the current key prefix
func (n *Namespaced[V]) Prefix() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.prefix
}

// Version returns the current namespace version
func (n *Namespaced[V]) Version() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.version
}

// Clear invalidates all keys of the namespace and returns the new prefix
func (n *Namespaced[V]) Clear() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version++
	n.prefix = n.build(n.version)
	return n.prefix
}

func (n *Namespaced[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return n.inner.Get(ctx, n.Prefix()+key)
}

func (n *Namespaced[V]) Put(ctx context.Context, key string, value V) error {
	return n.inner.Put(ctx, n.Prefix()+key, value)
}

func (n *Namespaced[V]) Evict(key string) {
	n.inner.Evict(n.Prefix() + key)
}
