package querycache

import "time"

// QueryInfo is the eviction view of one entity.
type QueryInfo struct {
	// Key is the entity's query key.
	Key Key

	// Hash is the registry identity.
	Hash string

	// Subscribers is the number of attached subscriptions.
	Subscribers int

	// LastAccess is when the entity was last created, looked up, or
	// resolved.
	LastAccess time.Time

	// UpdatedAt is when the entity's data was last produced.
	UpdatedAt time.Time

	// EvictAfter is the entity's registry lifetime with no subscribers.
	// Zero disables eviction for the entity.
	EvictAfter time.Duration

	// Pinned marks the entity exempt from eviction.
	Pinned bool

	// Fetching reports whether a fetch is in flight.
	Fetching bool
}

// Policy decides whether idle entities leave the registry.
type Policy interface {
	// ShouldEvict reports whether the entity described by info can be
	// dropped at now.
	ShouldEvict(info QueryInfo, now time.Time) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(info QueryInfo, now time.Time) bool

// ShouldEvict implements Policy.
func (f PolicyFunc) ShouldEvict(info QueryInfo, now time.Time) bool {
	return f(info, now)
}

// DefaultPolicy evicts entities with no subscribers whose last access is
// older than their evict window. Pinned entities, entities with a fetch in
// flight, and entities with a zero evict window are kept.
func DefaultPolicy() Policy {
	return PolicyFunc(func(info QueryInfo, now time.Time) bool {
		if info.Pinned || info.Fetching || info.Subscribers > 0 {
			return false
		}
		if info.EvictAfter <= 0 {
			return false
		}
		return now.Sub(info.LastAccess) > info.EvictAfter
	})
}

// Sweep applies the eviction policy once, outside the background cadence,
// and reports the number of entities removed.
func (c *Client) Sweep() int {
	return c.sweep(c.clock())
}

// sweepLoop runs the periodic eviction sweep until Close.
func (c *Client) sweepLoop() {
	defer close(c.sweepDone)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.sweep(c.clock())
		}
	}
}

// sweep removes every entity the policy rejects at now.
func (c *Client) sweep(now time.Time) int {
	c.mu.Lock()
	var victims []entity
	for hash, ent := range c.entries {
		if c.policy.ShouldEvict(ent.info(), now) {
			victims = append(victims, ent)
			delete(c.entries, hash)
		}
	}
	c.mu.Unlock()

	for _, ent := range victims {
		ent.shutdown()
	}

	if len(victims) > 0 {
		c.logger.Debug().
			Str("component", "client").
			Str("operation", "sweep").
			Int("evicted", len(victims)).
			Msg("evicted idle entities")
	}
	return len(victims)
}
