package querycache

import "time"

// queryOptions carries the per-entity settings resolved at creation time.
// Defaults come from the client's Config; options override them.
type queryOptions struct {
	refetchAfter time.Duration
	evictAfter   time.Duration
	neverStale   bool
	pinned       bool
	persist      bool
	hasInitial   bool
	initial      any
}

func defaultQueryOptions(cfg Config) queryOptions {
	return queryOptions{
		refetchAfter: cfg.RefetchAfter,
		evictAfter:   cfg.EvictAfter,
	}
}

// QueryOption adjusts one entity at creation. Options passed to GetOrCreate
// apply only when the entity does not exist yet.
type QueryOption func(*queryOptions)

// WithRefetchAfter overrides the staleness window for this entity. A
// resolve past the window triggers a refetch.
func WithRefetchAfter(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.refetchAfter = d
	}
}

// WithEvictAfter overrides how long the entity stays registered with no
// subscribers. Zero disables eviction for the entity.
func WithEvictAfter(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.evictAfter = d
	}
}

// WithNeverStale marks the entity's results permanently fresh: only a
// forced resolve or an invalidation triggers a refetch.
func WithNeverStale() QueryOption {
	return func(o *queryOptions) {
		o.neverStale = true
	}
}

// WithPinned exempts the entity from eviction.
func WithPinned() QueryOption {
	return func(o *queryOptions) {
		o.pinned = true
	}
}

// WithPersistence enables the storage bridge for this entity: successful
// fetches are written through to the client's store, and a cold entity is
// hydrated from it before the first fetch resolves. Requires the value type
// to round-trip encoding/json. Ignored when the client has no store.
func WithPersistence() QueryOption {
	return func(o *queryOptions) {
		o.persist = true
	}
}

// WithInitialData seeds the entity with a value at creation. The entity
// starts in StatusSuccess with UpdatedAt set to the creation time, so it
// stays fresh for a full staleness window. The value type must match the
// entity's type parameter.
func WithInitialData[T any](data T) QueryOption {
	return func(o *queryOptions) {
		o.hasInitial = true
		o.initial = data
	}
}
