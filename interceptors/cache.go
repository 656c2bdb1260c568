package interceptors

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/registry"
)

// Store is the pluggable persistence backend a Cache writes through to.
// The in-process memoryStore below is the default; cachebackend.Backend
// implements the same interface over an on-disk LSM tree for cross-process
// reuse (§4.3 "pluggable backend").
type Store interface {
	Get(key string) (value []byte, storedAt time.Time, ok bool)
	Set(key string, value []byte, storedAt time.Time) error
	Delete(key string) error
}

type lruEntry struct {
	key string
}

// memoryStore is an LRU-bounded in-process Store, grounded on the
// bounded-map-plus-list eviction omni's internal/kv package performs in
// front of badger for its hot-path cache tier.
type memoryStore struct {
	mu       sync.Mutex
	maxItems int
	items    map[string]*list.Element
	order    *list.List
	values   map[string]storedValue
}

type storedValue struct {
	data     []byte
	storedAt time.Time
}

func newMemoryStore(maxItems int) *memoryStore {
	if maxItems <= 0 {
		maxItems = 10000
	}
	return &memoryStore{
		maxItems: maxItems,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		values:   make(map[string]storedValue),
	}
}

func (m *memoryStore) Get(key string) ([]byte, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, time.Time{}, false
	}
	m.order.MoveToFront(el)
	v := m.values[key]
	return v.data, v.storedAt, true
}

func (m *memoryStore) Set(key string, value []byte, storedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.order.MoveToFront(el)
		m.values[key] = storedValue{data: value, storedAt: storedAt}
		return nil
	}
	el := m.order.PushFront(&lruEntry{key: key})
	m.items[key] = el
	m.values[key] = storedValue{data: value, storedAt: storedAt}
	for m.order.Len() > m.maxItems {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		k := oldest.Value.(*lruEntry).key
		delete(m.items, k)
		delete(m.values, k)
	}
	return nil
}

func (m *memoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
		delete(m.values, key)
	}
	return nil
}

// CacheConfig configures a Cache interceptor.
type CacheConfig struct {
	KeyFunc KeyFunc
	// TTL is how long a stored value is served fresh. Required.
	TTL time.Duration
	// StaleWindow, if > 0, enables stale-while-revalidate: a request
	// arriving after TTL but within TTL+StaleWindow gets the stale value
	// immediately while a single background refresh runs (§4.3 SWR).
	StaleWindow time.Duration
	// Store is the backend to write through to. Defaults to an in-process
	// LRU of MaxItems entries.
	Store    Store
	MaxItems int
}

// Cache caches successful handler results keyed by procedure+payload,
// honoring a fixed TTL and optional stale-while-revalidate grace.
type Cache struct {
	keyFn       KeyFunc
	ttl         time.Duration
	staleWindow time.Duration
	store       Store

	mu          sync.Mutex
	refreshing  map[string]bool
}

// NewCache builds a Cache interceptor.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultCacheKey
	}
	if cfg.Store == nil {
		cfg.Store = newMemoryStore(cfg.MaxItems)
	}
	return &Cache{
		keyFn:       cfg.KeyFunc,
		ttl:         cfg.TTL,
		staleWindow: cfg.StaleWindow,
		store:       cfg.Store,
		refreshing:  make(map[string]bool),
	}
}

// Intercept serves a cached clone when fresh, triggers SWR background
// refresh when stale-but-within-window, and otherwise executes next() and
// stores its result on success.
func (c *Cache) Intercept(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
	key := c.keyFn(env, ctx)

	if data, storedAt, ok := c.store.Get(key); ok {
		age := time.Since(storedAt)
		if age <= c.ttl {
			return decodeCached(data)
		}
		if c.staleWindow > 0 && age <= c.ttl+c.staleWindow {
			c.maybeRefresh(key, env, ctx, next)
			return decodeCached(data)
		}
	}

	result, err := next()
	if err != nil {
		return nil, err
	}
	c.store.Set(key, encodeCached(result), time.Now())
	return cloneViaJSON(result)
}

// maybeRefresh starts at most one background refresh per key at a time.
func (c *Cache) maybeRefresh(key string, env *envelope.Envelope, ctx *envelope.Context, next registry.Next) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()
		result, err := next()
		if err != nil {
			return
		}
		c.store.Set(key, encodeCached(result), time.Now())
	}()
}

// Invalidate evicts key's cached entry, for handlers that mutate state a
// cached read depends on.
func (c *Cache) Invalidate(key string) error { return c.store.Delete(key) }

func encodeCached(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func decodeCached(data []byte) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
