package querycache

import "time"

// Status describes the lifecycle phase of a query entity.
type Status string

// Query lifecycle statuses.
const (
	// StatusIdle means no fetch has been attempted yet.
	StatusIdle Status = "idle"

	// StatusLoading means a fetch is in flight.
	StatusLoading Status = "loading"

	// StatusSuccess means the most recent fetch produced a value.
	StatusSuccess Status = "success"

	// StatusError means the most recent fetch failed.
	StatusError Status = "error"
)

// Snapshot is an immutable view of a query entity's state at one point in
// time. Subscribers receive one Snapshot per transition, in emission order.
type Snapshot[T any] struct {
	// Data is the last successfully produced value. Valid only when
	// HasData is true.
	Data T

	// HasData reports whether Data holds a produced value.
	HasData bool

	// Status is the entity's lifecycle phase.
	Status Status

	// Err is the failure of the most recent fetch. Set only when Status is
	// StatusError; a later successful fetch clears it.
	Err error

	// UpdatedAt is when Data was last produced. Before the first success it
	// holds the entity's creation time. It never moves backwards across
	// successive snapshots of one entity.
	UpdatedAt time.Time
}

// IsStale reports whether the snapshot's value is older than refetchAfter
// at now. Snapshots without data are always stale.
func (s Snapshot[T]) IsStale(now time.Time, refetchAfter time.Duration) bool {
	if !s.HasData {
		return true
	}
	return now.After(s.UpdatedAt.Add(refetchAfter))
}
