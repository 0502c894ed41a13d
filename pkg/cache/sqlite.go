package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists stores in a local SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and ensures the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY, created_at INTEGER NOT NULL)",
		"CREATE TABLE IF NOT EXISTS entries (store TEXT NOT NULL, key TEXT NOT NULL, data BLOB NOT NULL, cached_at INTEGER NOT NULL, PRIMARY KEY (store, key))",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().Unix()); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("sqlite open store: %w", err)
	}
	return &sqliteStore{storage: s, name: name}, nil
}

func (s *SQLiteStorage) Match(ctx context.Context, name string, key CacheKey) (*CacheEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM entries WHERE store = ? AND key = ?", name, key.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("sqlite select entry: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	entries, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("sqlite delete entries: %w", err)
	}
	stores, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("sqlite delete store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("sqlite commit: %w", err)
	}

	nEntries, _ := entries.RowsAffected()
	nStores, _ := stores.RowsAffected()
	deleted := nEntries > 0 || nStores > 0
	if deleted {
		StoresDeleted.Inc()
	}
	return deleted, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("sqlite select stores: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite scan store: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	storage *SQLiteStorage
	name    string
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	return s.storage.Match(ctx, s.name, key)
}

func (s *sqliteStore) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	tx, err := s.storage.db.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", s.name, now); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("sqlite register store: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (store, key, data, cached_at) VALUES (?, ?, ?, ?)",
		s.name, key.String(), data, entry.CachedAt.Unix()); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("sqlite write entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key CacheKey) (bool, error) {
	res, err := s.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE store = ? AND key = ?", s.name, key.String())
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("sqlite delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]CacheKey, error) {
	rows, err := s.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE store = ? ORDER BY key", s.name)
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("sqlite select keys: %w", err)
	}
	defer rows.Close()

	keys := make([]CacheKey, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite scan key: %w", err)
		}
		k, err := ParseCacheKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
