package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStorage.
const DefaultRedisPrefix = "edgecache"

// RedisStorage keeps each store in a Redis hash (field = key, value = JSON
// entry) and the set of store names in a registry set.
//
// Key layout:
//
//	<prefix>:stores        SET  of store names
//	<prefix>:store:<name>  HASH of "METHOD URL" -> entry JSON
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a storage on redisClient. An empty prefix uses DefaultRedisPrefix.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) registryKey() string {
	return s.prefix + ":stores"
}

func (s *RedisStorage) storeKey(name string) string {
	return s.prefix + ":store:" + name
}

// Open registers the store name and returns a handle.
func (s *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := s.redis.SAdd(ctx, s.registryKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisStore{storage: s, name: name}, nil
}

// Match retrieves an entry without registering the store.
// Returns ErrCacheMiss if the store or key doesn't exist.
func (s *RedisStorage) Match(ctx context.Context, name string, key CacheKey) (*CacheEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	data, err := s.redis.HGet(ctx, s.storeKey(name), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &entry, nil
}

// Delete removes the store hash and its registry entry atomically.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}

	var del, srem *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.storeKey(name))
		srem = pipe.SRem(ctx, s.registryKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis delete store: %w", err)
	}

	deleted := del.Val() > 0 || srem.Val() > 0
	if deleted {
		StoresDeleted.Inc()
	}
	return deleted, nil
}

// Names lists registered store names.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks the Redis connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client.
func (s *RedisStorage) Close() error {
	return nil
}

type redisStore struct {
	storage *RedisStorage
	name    string
}

func (r *redisStore) Name() string {
	return r.name
}

func (r *redisStore) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	return r.storage.Match(ctx, r.name, key)
}

// Put writes the entry and re-registers the store in one transaction.
func (r *redisStore) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	_, err = r.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.storage.registryKey(), r.name)
		pipe.HSet(ctx, r.storage.storeKey(r.name), key.String(), data)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	return nil
}

func (r *redisStore) Delete(ctx context.Context, key CacheKey) (bool, error) {
	n, err := r.storage.redis.HDel(ctx, r.storage.storeKey(r.name), key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (r *redisStore) Keys(ctx context.Context) ([]CacheKey, error) {
	fields, err := r.storage.redis.HKeys(ctx, r.storage.storeKey(r.name)).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(fields)

	keys := make([]CacheKey, 0, len(fields))
	for _, f := range fields {
		k, err := ParseCacheKey(f)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
