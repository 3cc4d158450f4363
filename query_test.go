package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/querycache/storage"
	"github.com/rshade/querycache/storage/memstore"
)

var errBoom = errors.New("boom")

func TestResolveServesFreshValueWithoutFetching(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)

	first, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Data)
	assert.True(t, first.HasData)
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, clock.Now(), first.UpdatedAt)
	require.Equal(t, int32(1), calls.Load())

	// Within the staleness window the cached snapshot is returned as is.
	second, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveRefetchesWhenStale(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	fetch := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)

	// Exactly at the window boundary the value is still fresh.
	clock.Advance(c.cfg.RefetchAfter)
	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Data)
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Second)
	snap, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Data)
	assert.Equal(t, clock.Now(), snap.UpdatedAt)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveForceBypassesFreshness(t *testing.T) {
	c := newTestClient(t)
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	_, err = q.Resolve(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveDeduplicatesConcurrentFetches(t *testing.T) {
	c := newTestClient(t)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	const n = 16
	ready := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-ready
			snap, err := q.Resolve(context.Background(), true)
			if err != nil {
				return err
			}
			if snap.Data != 42 {
				return errors.New("resolver observed a foreign value")
			}
			return nil
		})
	}

	close(ready)
	<-started
	// Give every resolver time to join the in-flight fetch before it settles.
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveErrorPreservesData(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))

	var fail atomic.Bool
	fetch := func(ctx context.Context) (int, error) {
		if fail.Load() {
			return 0, errBoom
		}
		return 5, nil
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	good, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 5, good.Data)

	fail.Store(true)
	clock.Advance(time.Hour)

	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err, "errors stay in the snapshot unless Rethrow is set")
	assert.Equal(t, StatusError, snap.Status)
	assert.ErrorIs(t, snap.Err, errBoom)
	assert.True(t, snap.HasData)
	assert.Equal(t, 5, snap.Data, "last known good value survives the failure")
	assert.Equal(t, good.UpdatedAt, snap.UpdatedAt)
}

func TestResolveErroredEntityRefetches(t *testing.T) {
	c := newTestClient(t)

	var fail atomic.Bool
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		if fail.Load() {
			return 0, errBoom
		}
		return 5, nil
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	fail.Store(true)
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// An errored snapshot is never fresh: the next resolve retries.
	fail.Store(false)
	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 5, snap.Data)
	assert.NoError(t, snap.Err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveRethrow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	cfg.Rethrow = true
	c := newTestClientWithConfig(t, cfg)

	fetch := func(ctx context.Context) (int, error) {
		return 0, errBoom
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	snap, err := q.Resolve(context.Background(), false)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StatusError, snap.Status)
	assert.ErrorIs(t, snap.Err, errBoom)
}

func TestResolveRethrowSharedByJoinedCallers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	cfg.Rethrow = true
	c := newTestClientWithConfig(t, cfg)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 0, errBoom
	}

	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	ready := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-ready
			_, resolveErr := q.Resolve(context.Background(), true)
			errs <- resolveErr
			return nil
		})
	}

	close(ready)
	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, g.Wait())
	close(errs)

	for resolveErr := range errs {
		assert.ErrorIs(t, resolveErr, errBoom, "every joined caller observes the shared failure")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveRecoversFetchPanic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	cfg.Rethrow = true
	c := newTestClientWithConfig(t, cfg)

	fetch := func(ctx context.Context) (int, error) {
		panic("fetch went sideways")
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	snap, err := q.Resolve(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch panicked")
	assert.Contains(t, err.Error(), "fetch went sideways")
	assert.Equal(t, StatusError, snap.Status)
	assert.False(t, q.IsFetching())
}

func TestResolveCallerAbandonment(t *testing.T) {
	c := newTestClient(t)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 42, nil
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		snap Snapshot[int]
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := q.Resolve(ctx, false)
		done <- result{snap, err}
	}()

	<-started
	cancel()

	select {
	case res := <-done:
		require.ErrorIs(t, res.err, context.Canceled)
		assert.Equal(t, StatusLoading, res.snap.Status)
		assert.False(t, res.snap.HasData)
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned resolve never returned")
	}

	// The fetch keeps running and still settles the entity.
	close(release)
	require.Eventually(t, func() bool {
		snap := q.Snapshot()
		return snap.Status == StatusSuccess && snap.Data == 42
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveNeverStale(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"catalog"}, countingFetch(&calls, 5), WithNeverStale())
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Forcing still refetches.
	_, err = q.Resolve(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithRefetchAfterOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5), WithRefetchAfter(time.Second))
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)

	// Stale long before the cache-wide default window would lapse.
	clock.Advance(2 * time.Second)
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := newTestClient(t)
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)

	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	q.Invalidate()
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// A successful fetch clears the mark.
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpdateAppliesLocally(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)
	before, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)

	snap := q.Update(func(prev int, present bool) int {
		assert.True(t, present)
		return prev + 1
	})

	assert.Equal(t, 6, snap.Data)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, before.UpdatedAt, snap.UpdatedAt)
	assert.Equal(t, int32(1), calls.Load(), "updates never trigger a fetch")
	assert.Equal(t, snap, q.Snapshot())
}

func TestUpdateOnEmptyEntity(t *testing.T) {
	c := newTestClient(t)
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)

	snap := q.Update(func(prev int, present bool) int {
		assert.False(t, present)
		assert.Zero(t, prev)
		return 10
	})

	assert.Equal(t, 10, snap.Data)
	assert.True(t, snap.HasData)
	assert.Equal(t, StatusIdle, snap.Status, "updates never change the status")
	assert.Equal(t, int32(0), calls.Load())
}

func TestWithInitialDataStartsFresh(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))
	var calls atomic.Int32

	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5), WithInitialData(7))
	require.NoError(t, err)

	snap := q.Snapshot()
	assert.Equal(t, 7, snap.Data)
	assert.True(t, snap.HasData)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, clock.Now(), snap.UpdatedAt)

	// Seeded data counts as fresh for a full staleness window.
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())

	clock.Advance(c.cfg.RefetchAfter + time.Second)
	_, err = q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveHydratesFromStore(t *testing.T) {
	store := memstore.New()
	c := newTestClient(t, WithStore(store))

	key := Key{"users", 1}
	hash, err := key.Hash()
	require.NoError(t, err)

	rec := storage.NewRecord(hash, json.RawMessage(`7`), time.Now().Add(-time.Hour))
	raw, err := storage.EncodeRecord(rec)
	require.NoError(t, err)
	storeKey := storage.EntryKey(DefaultNamespace, hash)
	require.NoError(t, store.Set(context.Background(), storeKey, raw, 0))

	var calls atomic.Int32
	q, err := GetOrCreate(c, key, countingFetch(&calls, 9), WithPersistence())
	require.NoError(t, err)

	sub := q.Subscribe()
	defer sub.Close()

	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 9, snap.Data)
	assert.Equal(t, int32(1), calls.Load(), "a stored value never replaces the fetch")

	// Replay, then the loading transition, then the hydrated value, then the
	// fetched one.
	idle := recvSnapshot(t, sub)
	assert.Equal(t, StatusIdle, idle.Status)
	assert.False(t, idle.HasData)

	loading := recvSnapshot(t, sub)
	assert.Equal(t, StatusLoading, loading.Status)
	assert.False(t, loading.HasData)

	hydrated := recvSnapshot(t, sub)
	assert.Equal(t, StatusLoading, hydrated.Status)
	assert.True(t, hydrated.HasData)
	assert.Equal(t, 7, hydrated.Data)

	settled := recvSnapshot(t, sub)
	assert.Equal(t, StatusSuccess, settled.Status)
	assert.Equal(t, 9, settled.Data)

	// The fetched value was written through.
	raw, err = store.Get(context.Background(), storeKey)
	require.NoError(t, err)
	rec, err = storage.DecodeRecord(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `9`, string(rec.Data))
}

func TestHydrationNeverOverwritesMemory(t *testing.T) {
	store := memstore.New()
	clock := newFakeClock()
	c := newTestClient(t, WithStore(store), WithClock(clock.Now))

	key := Key{"users", 1}
	hash, err := key.Hash()
	require.NoError(t, err)
	storeKey := storage.EntryKey(DefaultNamespace, hash)

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)) + 4, nil
	}
	q, err := GetOrCreate(c, key, fetch, WithPersistence())
	require.NoError(t, err)

	first, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 5, first.Data)

	// Plant a conflicting value in the store, then refetch.
	rec := storage.NewRecord(hash, json.RawMessage(`999`), time.Now())
	raw, err := storage.EncodeRecord(rec)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), storeKey, raw, 0))

	sub := q.Subscribe()
	defer sub.Close()

	clock.Advance(time.Hour)
	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Data)

	// No snapshot along the way carried the planted value.
	for {
		got := recvSnapshot(t, sub)
		assert.NotEqual(t, 999, got.Data)
		if got.Status == StatusSuccess && got.Data == 6 {
			break
		}
	}
}

func TestResolvePersistsWithoutPriorRecord(t *testing.T) {
	store := memstore.New()
	c := newTestClient(t, WithStore(store))

	key := Key{"users", 1}
	var calls atomic.Int32
	q, err := GetOrCreate(c, key, countingFetch(&calls, 5), WithPersistence())
	require.NoError(t, err)

	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 5, snap.Data)

	hash, err := key.Hash()
	require.NoError(t, err)
	raw, err := store.Get(context.Background(), storage.EntryKey(DefaultNamespace, hash))
	require.NoError(t, err)

	rec, err := storage.DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, hash, rec.Key)
	assert.JSONEq(t, `5`, string(rec.Data))
	assert.True(t, rec.UpdatedAt.Equal(snap.UpdatedAt))
}

// faultyStore fails every operation, for exercising storage error absorption.
type faultyStore struct{}

func (faultyStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store offline")
}

func (faultyStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store offline")
}

func (faultyStore) Delete(context.Context, string) error { return errors.New("store offline") }

func (faultyStore) Close() error { return nil }

func TestStorageFailuresNeverSurface(t *testing.T) {
	c := newTestClient(t, WithStore(faultyStore{}))
	var calls atomic.Int32

	// Both the hydration read and the write-through fail; the resolve must
	// settle on the fetched value regardless.
	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5), WithPersistence())
	require.NoError(t, err)

	snap, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 5, snap.Data)
	assert.NoError(t, snap.Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHydrationDiscardsUndecodableRecords(t *testing.T) {
	store := memstore.New()
	c := newTestClient(t, WithStore(store))

	key := Key{"users", 1}
	hash, err := key.Hash()
	require.NoError(t, err)
	storeKey := storage.EntryKey(DefaultNamespace, hash)

	mismatched, err := storage.EncodeRecord(storage.NewRecord(hash, json.RawMessage(`"not an int"`), time.Now()))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "not an envelope", raw: []byte(`{broken`)},
		{name: "foreign version", raw: []byte(`{"version":99,"key":"x","data":1,"updated_at":"2026-03-14T09:30:00Z"}`)},
		{name: "mismatched value shape", raw: mismatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Set(context.Background(), storeKey, tt.raw, 0))
			c.Reset()

			var calls atomic.Int32
			q, err := GetOrCreate(c, key, countingFetch(&calls, 5), WithPersistence())
			require.NoError(t, err)

			snap, err := q.Resolve(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, snap.Status)
			assert.Equal(t, 5, snap.Data, "an undecodable record is a miss, not a failure")
		})
	}
}

func TestUpdatedAtNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, WithClock(clock.Now))

	var calls atomic.Int32
	q, err := GetOrCreate(c, Key{"users", 1}, countingFetch(&calls, 5))
	require.NoError(t, err)

	first, err := q.Resolve(context.Background(), false)
	require.NoError(t, err)

	clock.Advance(-time.Hour)
	snap, err := q.Resolve(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, snap.UpdatedAt)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIsFetching(t *testing.T) {
	c := newTestClient(t)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 5, nil
	}
	q, err := GetOrCreate(c, Key{"users", 1}, fetch)
	require.NoError(t, err)

	assert.False(t, q.IsFetching())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Resolve(context.Background(), false)
	}()

	<-started
	assert.True(t, q.IsFetching())

	close(release)
	<-done
	assert.False(t, q.IsFetching())
}

func TestQueryAccessors(t *testing.T) {
	c := newTestClient(t)
	var calls atomic.Int32

	key := Key{"users", 1}
	q, err := GetOrCreate(c, key, countingFetch(&calls, 5))
	require.NoError(t, err)

	hash, err := key.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, q.Hash())

	got := q.Key()
	assert.Equal(t, key, got)
	got[0] = "mutated"
	assert.Equal(t, key, q.Key(), "Key returns a copy")
}
