// Package precache fetches the static manifest as a single all-or-nothing
// batch.
//
// Resources are fetched in parallel with a bounded number of workers. The
// batch only succeeds when every resource answered 200; the first failure
// cancels the remaining fetches and nothing is written.
//
// Example usage:
//
//	p := precache.New(originClient, precache.DefaultConfig())
//	resources, err := p.FetchAll(ctx, cfg.StaticResources)
//	if err != nil {
//		return err // wraps precache.ErrIncomplete
//	}
//	err = precache.Commit(ctx, staticStore, resources)
//
// Commit writes the batch and removes what it already wrote if a later
// write fails, so a store never holds a partial manifest.
package precache
