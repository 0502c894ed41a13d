package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry or key is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrInvalidStoreName indicates an empty store name
	ErrInvalidStoreName = errors.New("invalid store name")
)

// Storage is a collection of named stores.
//
// Implementations must be safe for concurrent use. Writes to the same key
// are last-writer-wins.
type Storage interface {
	// Open returns the named store, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)

	// Match looks a key up in the named store without creating the store.
	// It returns ErrCacheMiss if the store or the key does not exist.
	Match(ctx context.Context, name string, key CacheKey) (*CacheEntry, error)

	// Delete removes the named store and all its entries.
	// It reports whether there was anything to delete.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists all existing store names in sorted order.
	Names(ctx context.Context) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources owned by the storage.
	Close() error
}

// Store is a handle to one named store.
// A Put through a handle whose store was deleted recreates the store.
type Store interface {
	Name() string

	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)

	// Put stores entry under key, overwriting any previous entry.
	Put(ctx context.Context, key CacheKey, entry *CacheEntry) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key CacheKey) (bool, error)

	// Keys lists the keys held by the store.
	Keys(ctx context.Context) ([]CacheKey, error)
}

func checkName(name string) error {
	if name == "" {
		return ErrInvalidStoreName
	}
	return nil
}
