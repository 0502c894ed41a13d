package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/edge-cache/pkg/lifecycle"
	"github.com/Sternrassler/edge-cache/pkg/precache"
)

// Install precaches the manifest into the static store. The batch is
// all-or-nothing: any failure leaves the store untouched and returns an
// error wrapping precache.ErrIncomplete.
//
// On success the engine skips waiting and activates. On failure it stays
// installed (waiting) until SkipWaiting is called, unless a skip-waiting
// request arrived while installing.
func (e *Engine) Install(ctx context.Context) error {
	e.installMu.Lock()
	defer e.installMu.Unlock()

	if _, err := e.tracker.Transition(lifecycle.StateInstalling); err != nil {
		return err
	}
	e.logger.Info().
		Str("store", e.cfg.StaticCacheName).
		Int("resources", len(e.cfg.StaticResources)).
		Msg("Installing, caching static resources")

	err := e.precacheManifest(ctx)

	if _, terr := e.tracker.Transition(lifecycle.StateInstalled); terr != nil {
		return errors.Join(err, terr)
	}

	if err != nil {
		e.logger.Error().
			Err(err).
			Str("store", e.cfg.StaticCacheName).
			Msg("Failed to cache static resources, waiting for activation")
		if e.tracker.SkipWaitingRequested() {
			return errors.Join(err, e.Activate(ctx))
		}
		return err
	}

	e.logger.Info().
		Str("store", e.cfg.StaticCacheName).
		Msg("All static resources cached")

	e.tracker.RequestSkipWaiting()
	return e.Activate(ctx)
}

func (e *Engine) precacheManifest(ctx context.Context) error {
	resources, err := e.precacher.FetchAll(ctx, e.cfg.StaticResources)
	if err != nil {
		return err
	}
	store, err := e.storage.Open(ctx, e.cfg.StaticCacheName)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", precache.ErrIncomplete, e.cfg.StaticCacheName, err)
	}
	return precache.Commit(ctx, store, resources)
}

// Activate deletes superseded stores and makes the engine handle requests.
// If enumeration or deletion fails, activation is aborted, the previous
// state is restored and the error is returned.
func (e *Engine) Activate(ctx context.Context) error {
	from, err := e.tracker.Transition(lifecycle.StateActivating)
	if err != nil {
		return err
	}

	stale, err := e.Superseded(ctx)
	if err == nil {
		err = e.DeleteStores(ctx, stale)
	}
	if err != nil {
		if _, terr := e.tracker.Transition(from); terr != nil {
			err = errors.Join(err, terr)
		}
		e.logger.Error().Err(err).Msg("Activation failed")
		return fmt.Errorf("activate: %w", err)
	}

	if _, err := e.tracker.Transition(lifecycle.StateActivated); err != nil {
		return err
	}
	e.logger.Info().
		Strs("deleted", stale).
		Str("state", string(lifecycle.StateActivated)).
		Msg("Activated, handling requests")
	return nil
}

// Superseded lists the stores in the managed namespace that belong to
// neither the current static nor the current API version. Stores outside
// the namespace are never listed.
func (e *Engine) Superseded(ctx context.Context) ([]string, error) {
	names, err := e.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}

	var stale []string
	for _, name := range names {
		if !strings.HasPrefix(name, e.cfg.CacheName) {
			continue
		}
		if name == e.cfg.StaticCacheName || name == e.cfg.APICacheName {
			continue
		}
		stale = append(stale, name)
	}
	return stale, nil
}

// DeleteStores deletes the named stores. It stops at the first failure.
func (e *Engine) DeleteStores(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := e.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete store %s: %w", name, err)
		}
		e.logger.Info().Str("store", name).Msg("Deleted old cache")
	}
	return nil
}

// SkipWaiting ends the waiting period. An installed engine activates now;
// an engine that has not finished installing activates when install
// completes, whatever its outcome. It is a no-op once activated.
func (e *Engine) SkipWaiting(ctx context.Context) error {
	switch state := e.tracker.RequestSkipWaiting(); state {
	case lifecycle.StateInstalled:
		err := e.Activate(ctx)
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// another caller activated first
			return nil
		}
		return err
	default:
		e.logger.Debug().
			Str("state", string(state)).
			Msg("Skip waiting recorded")
		return nil
	}
}

// ClearAPICache deletes the API store. Clearing an absent store is not an
// error.
func (e *Engine) ClearAPICache(ctx context.Context) error {
	deleted, err := e.storage.Delete(ctx, e.cfg.APICacheName)
	if err != nil {
		return fmt.Errorf("clear api cache: %w", err)
	}
	e.logger.Info().
		Str("store", e.cfg.APICacheName).
		Bool("deleted", deleted).
		Msg("API cache cleared")
	return nil
}

// StoreNames lists every store known to the storage backend.
func (e *Engine) StoreNames(ctx context.Context) ([]string, error) {
	names, err := e.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return names, nil
}

// Ready reports whether the engine is activated and its storage reachable.
func (e *Engine) Ready(ctx context.Context) error {
	if state := e.tracker.State(); state != lifecycle.StateActivated {
		return fmt.Errorf("engine is %s", state)
	}
	if err := e.storage.Ping(ctx); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}
