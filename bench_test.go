package querycache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

// BenchmarkKeyHash benchmarks hashing of a typical structured key.
func BenchmarkKeyHash(b *testing.B) {
	b.ReportAllocs()
	key := Key{"users", 42, map[string]any{"page": 3, "sort": "asc", "filter": "active"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := key.Hash(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkResolveFresh benchmarks the cache-hit path: the entity holds a
// fresh value, so Resolve returns without invoking the fetch function.
func BenchmarkResolveFresh(b *testing.B) {
	c, err := New(Config{
		RefetchAfter: DefaultRefetchAfter,
		EvictAfter:   DefaultEvictAfter,
		Namespace:    DefaultNamespace,
	})
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	q, err := GetOrCreate(c, Key{"bench", "fresh"}, func(ctx context.Context) (int, error) {
		return 42, nil
	}, WithNeverStale())
	if err != nil {
		b.Fatal(err)
	}
	if _, err := q.Resolve(context.Background(), false); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := q.Resolve(context.Background(), false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGetOrCreateExisting benchmarks registry lookups for keys whose
// entities already exist.
func BenchmarkGetOrCreateExisting(b *testing.B) {
	c, err := New(Config{
		RefetchAfter: DefaultRefetchAfter,
		EvictAfter:   DefaultEvictAfter,
		Namespace:    DefaultNamespace,
	})
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	const entities = 64
	for i := 0; i < entities; i++ {
		if _, err := GetOrCreate(c, Key{"bench", i}, fetch); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := GetOrCreate(c, Key{"bench", i % entities}, fetch); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSnapshotFanout benchmarks emitting one update to a set of
// subscribers with running consumers.
func BenchmarkSnapshotFanout(b *testing.B) {
	for _, subscribers := range []int{1, 8, 64} {
		b.Run(fmt.Sprintf("subscribers_%d", subscribers), func(b *testing.B) {
			b.ReportAllocs()
			c, err := New(Config{
				RefetchAfter: DefaultRefetchAfter,
				EvictAfter:   DefaultEvictAfter,
				Namespace:    DefaultNamespace,
			})
			if err != nil {
				b.Fatal(err)
			}
			defer func() { _ = c.Close() }()

			q, err := GetOrCreate(c, Key{"bench", "fanout"}, func(ctx context.Context) (int, error) {
				return 0, nil
			})
			if err != nil {
				b.Fatal(err)
			}

			// Consumers drain until Close shuts the subscriptions down.
			for i := 0; i < subscribers; i++ {
				sub := q.Subscribe()
				go func() {
					for range sub.Updates() {
					}
				}()
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				q.Update(func(int, bool) int { return i })
			}
		})
	}
}
