package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rshade/querycache/storage"
)

// FetchFunc produces the value for a query. The cache never cancels an
// in-flight fetch: the context passed in carries the initiating caller's
// values but not its cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Query is a single cached computation: one key, one fetch function, one
// snapshot stream. Entities are created through GetOrCreate and live in the
// client's registry until removed or evicted. All methods are safe for
// concurrent use.
type Query[T any] struct {
	client *Client
	key    Key
	hash   string
	// id distinguishes entity generations under one hash, so a fetch
	// started before a Remove never joins the replacement entity's fetch.
	id    string
	fetch FetchFunc[T]
	opts  queryOptions

	mu          sync.Mutex
	state       Snapshot[T]
	fetching    bool
	invalidated bool
	lastAccess  time.Time
	subs        map[string]*Subscription[T]
}

// fetchResult carries one fetch outcome to every resolver that joined it.
type fetchResult[T any] struct {
	snap Snapshot[T]
	err  error
}

func newQuery[T any](c *Client, key Key, hash string, fetch FetchFunc[T], opts []QueryOption) (*Query[T], error) {
	options := defaultQueryOptions(c.cfg)
	for _, opt := range opts {
		opt(&options)
	}

	now := c.clock()
	q := &Query[T]{
		client:     c,
		key:        append(Key(nil), key...),
		hash:       hash,
		id:         ulid.Make().String(),
		fetch:      fetch,
		opts:       options,
		lastAccess: now,
		subs:       make(map[string]*Subscription[T]),
	}
	q.state = Snapshot[T]{Status: StatusIdle, UpdatedAt: now}

	if options.hasInitial {
		data, ok := options.initial.(T)
		if !ok {
			return nil, fmt.Errorf("%w: initial data is %T", ErrTypeMismatch, options.initial)
		}
		q.state = Snapshot[T]{
			Data:      data,
			HasData:   true,
			Status:    StatusSuccess,
			UpdatedAt: now,
		}
	}
	return q, nil
}

// Key returns a copy of the query key.
func (q *Query[T]) Key() Key {
	return append(Key(nil), q.key...)
}

// Hash returns the registry identity of the query.
func (q *Query[T]) Hash() string {
	return q.hash
}

// Snapshot returns the current state.
func (q *Query[T]) Snapshot() Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// IsFetching reports whether a fetch is in flight.
func (q *Query[T]) IsFetching() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetching
}

// Subscribers reports the number of attached subscriptions.
func (q *Query[T]) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

// Invalidate marks the entity stale so the next resolve refetches. An
// in-flight fetch is unaffected; a fetch that later succeeds clears the
// mark.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.invalidated = true
}

// Resolve returns a settled snapshot for the query. A fresh cached value is
// re-emitted and returned without I/O. A missing, stale, errored, forced,
// or invalidated value triggers the fetch procedure, deduplicated so any
// number of concurrent resolves share exactly one fetch invocation and all
// observe its outcome.
//
// ctx bounds only this caller's wait. Cancellation abandons the wait and
// returns the current snapshot with ctx's error; the fetch itself runs to
// completion and still updates the snapshot and subscribers.
//
// A fetch failure is recorded in the returned snapshot. It is also returned
// as an error only when Config.Rethrow is set.
func (q *Query[T]) Resolve(ctx context.Context, force bool) (Snapshot[T], error) {
	now := q.client.clock()

	q.mu.Lock()
	q.lastAccess = now
	if !force && q.freshLocked(now) {
		snap := q.state
		q.emitLocked(snap)
		q.mu.Unlock()
		return snap, nil
	}
	q.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := q.client.group.DoChan(q.hash+":"+q.id, func() (any, error) {
		return q.runFetch(detached, force), nil
	})

	select {
	case res := <-ch:
		outcome := res.Val.(fetchResult[T])
		return outcome.snap, outcome.err
	case <-ctx.Done():
		return q.Snapshot(), ctx.Err()
	}
}

// Update applies fn to the current value synchronously and emits the
// result. fn receives the current data and whether one exists. Status, Err,
// and UpdatedAt are unchanged; Update never triggers a fetch and never
// touches the persistent store.
func (q *Query[T]) Update(fn func(prev T, present bool) T) Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := q.state
	snap.Data = fn(snap.Data, snap.HasData)
	snap.HasData = true
	q.writeLocked(snap)
	return q.state
}

// Subscribe attaches a new subscriber. The snapshot current at subscribe
// time is delivered first, then every subsequent transition in emission
// order. The caller must Close the subscription when done with it.
func (q *Query[T]) Subscribe() *Subscription[T] {
	sub := newSubscription(q)

	q.mu.Lock()
	q.subs[sub.id] = sub
	sub.push(q.state)
	q.mu.Unlock()

	go sub.pump()
	return sub
}

func (q *Query[T]) removeSub(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.subs, id)
}

// freshLocked reports whether the current snapshot can be served without a
// fetch. Callers must hold q.mu.
func (q *Query[T]) freshLocked(now time.Time) bool {
	if q.invalidated || q.state.Status == StatusError {
		return false
	}
	if q.opts.neverStale {
		return q.state.HasData
	}
	return !q.state.IsStale(now, q.opts.refetchAfter)
}

// writeLocked installs snap as the current state and emits it. UpdatedAt
// never moves backwards. Callers must hold q.mu.
func (q *Query[T]) writeLocked(snap Snapshot[T]) {
	if snap.UpdatedAt.Before(q.state.UpdatedAt) {
		snap.UpdatedAt = q.state.UpdatedAt
	}
	q.state = snap
	q.emitLocked(snap)
}

// emitLocked pushes snap to every subscriber queue. Pushes never block, so
// holding q.mu here is safe. Callers must hold q.mu.
func (q *Query[T]) emitLocked(snap Snapshot[T]) {
	for _, sub := range q.subs {
		sub.push(snap)
	}
}

// runFetch executes the fetch procedure. It runs inside the dedup group, so
// at most one invocation is active per entity at any time.
func (q *Query[T]) runFetch(ctx context.Context, force bool) fetchResult[T] {
	now := q.client.clock()

	q.mu.Lock()
	// A fetch that settled between this resolver's staleness check and its
	// admission here may have refreshed the state already.
	if !force && q.freshLocked(now) {
		snap := q.state
		q.mu.Unlock()
		return fetchResult[T]{snap: snap}
	}

	q.fetching = true
	loading := q.state
	loading.Status = StatusLoading
	loading.Err = nil
	q.writeLocked(loading)
	q.mu.Unlock()

	if q.opts.persist && q.client.store != nil {
		q.hydrate(ctx)
	}

	data, fetchErr := q.invoke(ctx)

	now = q.client.clock()
	q.mu.Lock()
	q.fetching = false
	snap := q.state
	if fetchErr != nil {
		// Last known good value survives failures: Data and UpdatedAt stay.
		snap.Status = StatusError
		snap.Err = fetchErr
	} else {
		snap.Data = data
		snap.HasData = true
		snap.Status = StatusSuccess
		snap.Err = nil
		snap.UpdatedAt = now
		q.invalidated = false
	}
	q.writeLocked(snap)
	final := q.state
	q.mu.Unlock()

	if fetchErr != nil {
		q.client.logger.Debug().
			Str("component", "query").
			Str("operation", "fetch").
			Str("query_hash", q.hash).
			Err(fetchErr).
			Msg("fetch failed")
		if q.client.cfg.Rethrow {
			return fetchResult[T]{snap: final, err: fetchErr}
		}
		return fetchResult[T]{snap: final}
	}

	if q.opts.persist && q.client.store != nil {
		q.persistSnapshot(ctx, final)
	}
	return fetchResult[T]{snap: final}
}

// invoke calls the fetch function, converting a panic into an error so a
// misbehaving fetch never takes down resolvers waiting on the dedup group.
func (q *Query[T]) invoke(ctx context.Context) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return q.fetch(ctx)
}

// hydrate merges a persisted value into an empty snapshot so subscribers
// see the last known value while the fetch runs. Storage and decoding
// failures are absorbed; hydration never overwrites data already in memory
// and never changes the status.
func (q *Query[T]) hydrate(ctx context.Context) {
	q.mu.Lock()
	hasData := q.state.HasData
	q.mu.Unlock()
	if hasData {
		return
	}

	storeKey := storage.EntryKey(q.client.cfg.Namespace, q.hash)
	raw, err := q.client.store.Get(ctx, storeKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.client.logger.Warn().
				Str("component", "query").
				Str("operation", "hydrate").
				Str("query_hash", q.hash).
				Err(err).
				Msg("storage read failed")
		}
		return
	}

	rec, err := storage.DecodeRecord(raw)
	if err != nil {
		q.client.logger.Warn().
			Str("component", "query").
			Str("operation", "hydrate").
			Str("query_hash", q.hash).
			Err(err).
			Msg("discarding undecodable record")
		return
	}

	var data T
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		q.client.logger.Warn().
			Str("component", "query").
			Str("operation", "hydrate").
			Str("query_hash", q.hash).
			Err(err).
			Msg("discarding record with mismatched value shape")
		return
	}

	q.mu.Lock()
	if !q.state.HasData {
		snap := q.state
		snap.Data = data
		snap.HasData = true
		q.writeLocked(snap)
	}
	q.mu.Unlock()
}

// persistSnapshot writes a successful snapshot through to the store.
// Failures are logged and absorbed; persistence never affects the
// in-memory state.
func (q *Query[T]) persistSnapshot(ctx context.Context, snap Snapshot[T]) {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		q.client.logger.Warn().
			Str("component", "query").
			Str("operation", "persist").
			Str("query_hash", q.hash).
			Err(err).
			Msg("value not encodable, skipping write-through")
		return
	}

	rec := storage.NewRecord(q.hash, data, snap.UpdatedAt)
	raw, err := storage.EncodeRecord(rec)
	if err != nil {
		q.client.logger.Warn().
			Str("component", "query").
			Str("operation", "persist").
			Str("query_hash", q.hash).
			Err(err).
			Msg("record encoding failed, skipping write-through")
		return
	}

	storeKey := storage.EntryKey(q.client.cfg.Namespace, q.hash)
	if err := q.client.store.Set(ctx, storeKey, raw, q.client.cfg.StoreTTL); err != nil {
		q.client.logger.Warn().
			Str("component", "query").
			Str("operation", "persist").
			Str("query_hash", q.hash).
			Err(err).
			Msg("storage write failed")
	}
}

// touch refreshes the entity's last access time.
func (q *Query[T]) touch(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastAccess = now
}

// hashKey implements entity.
func (q *Query[T]) hashKey() string {
	return q.hash
}

// info implements entity.
func (q *Query[T]) info() QueryInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueryInfo{
		Key:         append(Key(nil), q.key...),
		Hash:        q.hash,
		Subscribers: len(q.subs),
		LastAccess:  q.lastAccess,
		UpdatedAt:   q.state.UpdatedAt,
		EvictAfter:  q.opts.evictAfter,
		Pinned:      q.opts.pinned,
		Fetching:    q.fetching,
	}
}

// invalidate implements entity.
func (q *Query[T]) invalidate() {
	q.Invalidate()
}

// shutdown implements entity: it detaches and closes every subscription.
// Holders of the Query keep a working but unregistered entity.
func (q *Query[T]) shutdown() {
	q.mu.Lock()
	subs := make([]*Subscription[T], 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	q.subs = make(map[string]*Subscription[T])
	q.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
