package querycache

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Subscription delivers every snapshot transition of one query entity, in
// emission order, starting with the snapshot current at subscribe time. No
// transition is skipped while the subscription is attached: a slow consumer
// buffers rather than dropping.
//
// Close detaches the subscription and closes Updates; snapshots not yet
// consumed are dropped.
type Subscription[T any] struct {
	id    string
	query *Query[T]

	mu     sync.Mutex
	queue  []Snapshot[T]
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan Snapshot[T]
	once sync.Once
}

func newSubscription[T any](q *Query[T]) *Subscription[T] {
	return &Subscription[T]{
		id:    ulid.Make().String(),
		query: q,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan Snapshot[T]),
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription[T]) ID() string {
	return s.id
}

// Updates returns the snapshot stream. The channel is closed after Close,
// and when the entity is removed from the registry.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.out
}

// Close detaches the subscription from its entity. It is idempotent and
// safe to call from any goroutine, including while receiving from Updates.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		s.query.removeSub(s.id)
	})
}

// push appends snap to the delivery queue. It never blocks, so emission
// under the entity lock stays cheap regardless of consumer speed.
func (s *Subscription[T]) push(snap Snapshot[T]) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the out channel until the subscription closes.
// Runs on its own goroutine, one per subscription.
func (s *Subscription[T]) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
