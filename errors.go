package querycache

import "errors"

// Common querycache errors.
var (
	// ErrClosed is returned by registry operations on a closed Client.
	ErrClosed = errors.New("client is closed")

	// ErrTypeMismatch is returned when a key is already bound to an entity
	// with a different value type.
	ErrTypeMismatch = errors.New("key already bound to a different type")

	// ErrKeyEncoding is returned when a key cannot be canonically encoded.
	ErrKeyEncoding = errors.New("key cannot be encoded")

	// ErrNilFetch is returned when an entity is created without a fetch
	// function.
	ErrNilFetch = errors.New("fetch function cannot be nil")
)
