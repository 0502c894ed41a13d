package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/edge-cache/pkg/cache"
	"github.com/Sternrassler/edge-cache/pkg/config"
	"github.com/Sternrassler/edge-cache/pkg/engine"
	"github.com/Sternrassler/edge-cache/pkg/logging"
	"github.com/Sternrassler/edge-cache/pkg/origin"
)

var (
	// Global flags.
	configPath string
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "edgecache",
	Short: "Caching proxy with cache-first assets and network-first API calls",
	Long: `edgecache sits in front of a web front-end and answers each GET request
by class: fonts and static assets come from a versioned cache, API calls
go to the network first and fall back to the last good response.

Examples:
  # Run the proxy
  edgecache serve --config edgecache.yaml

  # Precache the manifest and drop stores of older versions
  edgecache precache

  # Drop the API store
  edgecache clear-api`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "human-readable log output")
}

// app bundles what every command needs.
type app struct {
	cfg     config.Config
	storage cache.Storage
	engine  *engine.Engine
	closers []func() error
}

// loadConfig resolves the config and applies global flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if prettyLogs {
		cfg.Log.Pretty = true
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	a := &app{cfg: cfg}

	storage, closeFn, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.storage = storage
	a.closers = append(a.closers, closeFn)

	client, err := origin.New(origin.Config{
		BaseURL:   cfg.OriginURL(),
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create origin client: %w", err)
	}

	e, err := engine.New(engine.ConfigFrom(cfg), storage, client)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = e

	return a, nil
}

// Close drains pending writes and releases the storage.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}

// openStorage builds the configured storage backend. The returned close
// function releases everything the backend owns.
func openStorage(ctx context.Context, cfg config.StorageConfig) (cache.Storage, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("Connected to Redis")
		return cache.NewRedisStorage(client, cfg.RedisPrefix), client.Close, nil

	case config.BackendSQLite:
		s, err := cache.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("Opened SQLite storage")
		return s, s.Close, nil

	case config.BackendMemory:
		s := cache.NewMemoryStorage(cfg.MemoryCapacity)
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
