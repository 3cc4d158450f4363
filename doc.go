// Package querycache provides a client-side cache for remote or expensive
// asynchronous computations, keyed by structured query keys.
//
// Each key maps to one query entity holding the current Snapshot of its
// value and lifecycle status. Resolving a fresh entity returns the cached
// value without I/O; resolving a stale, missing, errored, or invalidated
// entity triggers its fetch function, with concurrent resolves for the same
// key sharing exactly one invocation. Key features:
//   - Staleness windows and registry lifetimes per cache and per entity
//   - In-flight deduplication: N concurrent resolves, one fetch
//   - Optional persistence through pluggable stores (file, memory, Redis,
//     SQL) with cold-start hydration and write-through
//   - Ordered snapshot streams for any number of subscribers
//   - Failure isolation: a failed fetch records its error in the snapshot
//     while the last known good value stays served
//
// A minimal use looks like:
//
//	client, err := querycache.New(querycache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	q, err := querycache.GetOrCreate(client, querycache.Key{"users", 42},
//		func(ctx context.Context) (User, error) {
//			return loadUser(ctx, 42)
//		})
//	if err != nil {
//		return err
//	}
//
//	snap, err := q.Resolve(ctx, false)
//
// The cache is designed for long-lived client processes (CLIs, daemons,
// desktop backends) where queries repeat within short windows and results
// should survive restarts when a persistent store is attached.
package querycache
