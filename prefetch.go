package querycache

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Prefetch resolves the entity for key, creating it when needed, and
// returns once the value is settled. Useful for warming the cache before
// the value is displayed or depended on. Fetch errors surface only when
// Config.Rethrow is set, matching Resolve.
func Prefetch[T any](ctx context.Context, c *Client, key Key, fetch FetchFunc[T], opts ...QueryOption) error {
	q, err := GetOrCreate(c, key, fetch, opts...)
	if err != nil {
		return err
	}
	_, err = q.Resolve(ctx, false)
	return err
}

// PrefetchTask is one unit of cache warming. Build with NewPrefetchTask so
// the value type stays bound to the fetch function.
type PrefetchTask struct {
	// Key is the query key the task warms.
	Key Key

	run func(ctx context.Context, c *Client) error
}

// NewPrefetchTask binds key, fetch, and opts into a task for WarmUp.
func NewPrefetchTask[T any](key Key, fetch FetchFunc[T], opts ...QueryOption) PrefetchTask {
	return PrefetchTask{
		Key: key,
		run: func(ctx context.Context, c *Client) error {
			return Prefetch(ctx, c, key, fetch, opts...)
		},
	}
}

// WarmUp resolves every task with bounded concurrency and returns the first
// error. Entities that are already fresh resolve without fetching, so
// repeated warm-ups are cheap.
func (c *Client) WarmUp(ctx context.Context, tasks ...PrefetchTask) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task.run(ctx, c)
		})
	}
	return g.Wait()
}
