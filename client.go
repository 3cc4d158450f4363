package querycache

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rshade/querycache/internal/logging"
	"github.com/rshade/querycache/storage"
)

// entity is the registry's view of a stored query, independent of its value
// type.
type entity interface {
	hashKey() string
	info() QueryInfo
	invalidate()
	shutdown()
}

// Client owns a registry of query entities plus the machinery they share:
// the persistent store, the dedup group, the eviction sweeper, the logger,
// and the clock. A zero Client is not usable; construct with New.
type Client struct {
	cfg    Config
	store  storage.Store
	logger zerolog.Logger
	clock  func() time.Time
	policy Policy

	mu      sync.Mutex
	entries map[string]entity
	closed  bool

	group singleflight.Group

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// ClientOption adjusts a Client at construction.
type ClientOption func(*Client)

// WithStore attaches a persistent store. Entities created with
// WithPersistence write through to it and hydrate from it. The store stays
// caller-owned: Client.Close does not close it.
func WithStore(store storage.Store) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithLogger attaches a logger. Without one, the client is silent.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPolicy replaces the eviction policy.
func WithPolicy(policy Policy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithClock replaces the time source. Intended for tests that steer
// staleness and eviction deterministically.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// New builds a Client from cfg. The background eviction sweeper starts
// immediately unless cfg.SweepInterval is zero.
func New(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logging.Nop(),
		clock:   time.Now,
		policy:  DefaultPolicy(),
		entries: make(map[string]entity),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cfg.SweepInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop()
	}
	return c, nil
}

// GetOrCreate returns the entity registered under key, creating it with
// fetch and opts when absent. Two concurrent calls for one unseen key
// produce a single entity; the loser of the race receives the winner's.
// Options apply only on creation. A key already bound to a different value
// type reports ErrTypeMismatch.
func GetOrCreate[T any](c *Client, key Key, fetch FetchFunc[T], opts ...QueryOption) (*Query[T], error) {
	if fetch == nil {
		return nil, ErrNilFetch
	}
	hash, err := key.Hash()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if existing, ok := c.entries[hash]; ok {
		q, ok := existing.(*Query[T])
		if !ok {
			return nil, fmt.Errorf("%w: key %s", ErrTypeMismatch, key)
		}
		q.touch(c.clock())
		return q, nil
	}

	q, err := newQuery(c, key, hash, fetch, opts)
	if err != nil {
		return nil, err
	}
	c.entries[hash] = q

	c.logger.Debug().
		Str("component", "client").
		Str("operation", "create").
		Str("query_hash", hash).
		Msg("registered query entity")
	return q, nil
}

// Lookup returns the entity registered under key, without creating one.
// The second return is false when no entity exists, the key cannot be
// encoded, the type parameter does not match, or the client is closed.
func Lookup[T any](c *Client, key Key) (*Query[T], bool) {
	hash, err := key.Hash()
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}

	existing, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	q, ok := existing.(*Query[T])
	return q, ok
}

// Remove detaches the entity under key from the registry, closing its
// subscriptions. The next GetOrCreate builds fresh state. A fetch already
// in flight finishes against the detached entity and never leaks into the
// replacement. Reports whether an entity existed.
func (c *Client) Remove(key Key) bool {
	hash, err := key.Hash()
	if err != nil {
		return false
	}

	c.mu.Lock()
	ent, ok := c.entries[hash]
	if ok {
		delete(c.entries, hash)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ent.shutdown()

	c.logger.Debug().
		Str("component", "client").
		Str("operation", "remove").
		Str("query_hash", hash).
		Msg("removed query entity")
	return true
}

// Invalidate marks the entity under key stale so its next resolve
// refetches. Reports whether an entity existed.
func (c *Client) Invalidate(key Key) bool {
	hash, err := key.Hash()
	if err != nil {
		return false
	}

	c.mu.Lock()
	ent, ok := c.entries[hash]
	c.mu.Unlock()

	if !ok {
		return false
	}
	ent.invalidate()
	return true
}

// Reset empties the registry, closing every entity's subscriptions. The
// client stays usable. Intended for test isolation.
func (c *Client) Reset() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]entity)
	c.mu.Unlock()

	for _, ent := range entries {
		ent.shutdown()
	}
}

// Close stops the eviction sweeper and detaches every entity. Registry
// operations afterwards report ErrClosed. The persistent store is
// caller-owned and stays open. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[string]entity)
	c.mu.Unlock()

	if c.sweepStop != nil {
		close(c.sweepStop)
		<-c.sweepDone
	}
	for _, ent := range entries {
		ent.shutdown()
	}
	return nil
}

// Len reports the number of registered entities.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Hashes returns the registry identities of all registered entities.
func (c *Client) Hashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashes := make([]string, 0, len(c.entries))
	for hash := range c.entries {
		hashes = append(hashes, hash)
	}
	return hashes
}
