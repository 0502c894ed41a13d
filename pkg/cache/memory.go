package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity is the per-store entry limit used when none is given.
const DefaultMemoryCapacity = 1024

// Compile-time checks that the backends implement Storage.
var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*RedisStorage)(nil)
	_ Storage = (*SQLiteStorage)(nil)
)

// MemoryStorage keeps each store in a bounded LRU. Entries beyond the
// per-store capacity evict the least recently used key.
type MemoryStorage struct {
	mu       sync.RWMutex
	capacity int
	stores   map[string]*lru.Cache[string, *CacheEntry]
}

// NewMemoryStorage creates an in-process storage with the given per-store capacity.
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStorage{
		capacity: capacity,
		stores:   make(map[string]*lru.Cache[string, *CacheEntry]),
	}
}

// Open returns a handle to the named store, creating it if needed.
func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if _, err := m.ensure(name); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, err
	}
	return &memoryStore{storage: m, name: name}, nil
}

func (m *MemoryStorage) ensure(name string) (*lru.Cache[string, *CacheEntry], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.stores[name]; ok {
		return c, nil
	}
	c, err := lru.New[string, *CacheEntry](m.capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	m.stores[name] = c
	return c, nil
}

func (m *MemoryStorage) lookup(name string) (*lru.Cache[string, *CacheEntry], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.stores[name]
	return c, ok
}

// Match looks up key in the named store.
func (m *MemoryStorage) Match(_ context.Context, name string, key CacheKey) (*CacheEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	c, ok := m.lookup(name)
	if !ok {
		return nil, ErrCacheMiss
	}
	entry, ok := c.Get(key.String())
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.Clone(), nil
}

// Delete drops the named store.
func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[name]; !ok {
		return false, nil
	}
	delete(m.stores, name)
	StoresDeleted.Inc()
	return true, nil
}

// Names lists the store names in sorted order.
func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Ping(context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = make(map[string]*lru.Cache[string, *CacheEntry])
	return nil
}

type memoryStore struct {
	storage *MemoryStorage
	name    string
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	return s.storage.Match(ctx, s.name, key)
}

func (s *memoryStore) Put(_ context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	c, err := s.storage.ensure(s.name)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	c.Add(key.String(), entry.Clone())
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key CacheKey) (bool, error) {
	c, ok := s.storage.lookup(s.name)
	if !ok {
		return false, nil
	}
	return c.Remove(key.String()), nil
}

func (s *memoryStore) Keys(_ context.Context) ([]CacheKey, error) {
	c, ok := s.storage.lookup(s.name)
	if !ok {
		return nil, nil
	}

	raw := c.Keys()
	sort.Strings(raw)
	keys := make([]CacheKey, 0, len(raw))
	for _, r := range raw {
		k, err := ParseCacheKey(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
