package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeDeterminism(t *testing.T) {
	key1 := Key{"users", 42, map[string]any{"page": 1, "sort": "asc"}}
	key2 := Key{"users", 42, map[string]any{"sort": "asc", "page": 1}}

	enc1, err := key1.Encode()
	require.NoError(t, err)
	enc2, err := key2.Encode()
	require.NoError(t, err)

	// Map insertion order must not matter: encoding/json sorts map keys.
	assert.Equal(t, enc1, enc2)

	hash1, err := key1.Hash()
	require.NoError(t, err)
	hash2, err := key2.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestKeyHashShape(t *testing.T) {
	hash, err := Key{"users", 42}.Hash()
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Regexp(t, "^[0-9a-f]+$", hash)
}

func TestKeyHashDistinguishes(t *testing.T) {
	tests := []struct {
		name string
		a    Key
		b    Key
	}{
		{name: "different values", a: Key{"users", 1}, b: Key{"users", 2}},
		{name: "different order", a: Key{"a", "b"}, b: Key{"b", "a"}},
		{name: "different types", a: Key{"users", "1"}, b: Key{"users", 1}},
		{name: "different nesting", a: Key{"users", []any{1}}, b: Key{"users", 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashA, err := tt.a.Hash()
			require.NoError(t, err)
			hashB, err := tt.b.Hash()
			require.NoError(t, err)
			assert.NotEqual(t, hashA, hashB)
		})
	}
}

func TestKeyEncodeErrors(t *testing.T) {
	t.Run("empty key", func(t *testing.T) {
		_, err := Key{}.Encode()
		require.ErrorIs(t, err, ErrKeyEncoding)
	})

	t.Run("unencodable element", func(t *testing.T) {
		_, err := Key{"users", make(chan int)}.Encode()
		require.ErrorIs(t, err, ErrKeyEncoding)

		_, err = Key{"users", make(chan int)}.Hash()
		require.ErrorIs(t, err, ErrKeyEncoding)
	})
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, `["users",42]`, Key{"users", 42}.String())
	assert.Contains(t, Key{make(chan int)}.String(), "invalid key")
}
