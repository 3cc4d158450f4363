package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key identifies a query. Elements may be any JSON-encodable values; the
// convention is a path-like shape such as
//
//	querycache.Key{"users", 42, map[string]any{"page": 1}}
//
// Two keys are equivalent iff their canonical encodings are equal.
type Key []any

// Encode returns the canonical encoding of k. encoding/json writes map keys
// in sorted order and struct fields in declaration order, so equivalent keys
// always encode identically. Keys holding unencodable values (channels,
// functions) report ErrKeyEncoding.
func (k Key) Encode() (string, error) {
	if len(k) == 0 {
		return "", fmt.Errorf("%w: key is empty", ErrKeyEncoding)
	}

	data, err := json.Marshal([]any(k))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}
	return string(data), nil
}

// Hash returns the registry identity for k: the SHA-256 hex digest of its
// canonical encoding. The persistent store uses the same identity, so
// entries written by one process are found by the next.
func (k Key) Hash() (string, error) {
	encoded, err := k.Encode()
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:]), nil
}

// String renders the key for logs and error messages. Unencodable keys
// render as the error text.
func (k Key) String() string {
	encoded, err := k.Encode()
	if err != nil {
		return fmt.Sprintf("<invalid key: %v>", err)
	}
	return encoded
}
