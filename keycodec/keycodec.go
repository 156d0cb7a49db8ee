// Package keycodec maps typed cache keys to the string document ids a store
// works with. Encoding must be injective per cache: two distinct keys must
// never produce the same id, and DecodeKey must invert EncodeKey exactly.
package keycodec

import (
	"fmt"
	"strconv"
)

// Codec converts keys of type K to document ids and back.
type Codec[K any] interface {
	EncodeKey(K) string
	DecodeKey(string) (K, error)
}

// String is the identity codec for string keys.
type String struct{}

func (String) EncodeKey(k string) string           { return k }
func (String) DecodeKey(id string) (string, error) { return id, nil }

// Int encodes int keys in decimal.
type Int struct{}

func (Int) EncodeKey(k int) string { return strconv.Itoa(k) }

func (Int) DecodeKey(id string) (int, error) {
	k, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("keycodec: decode int key %q: %w", id, err)
	}
	return k, nil
}

// Int64 encodes int64 keys in decimal.
type Int64 struct{}

func (Int64) EncodeKey(k int64) string { return strconv.FormatInt(k, 10) }

func (Int64) DecodeKey(id string) (int64, error) {
	k, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("keycodec: decode int64 key %q: %w", id, err)
	}
	return k, nil
}

// Uint64 encodes uint64 keys in decimal.
type Uint64 struct{}

func (Uint64) EncodeKey(k uint64) string { return strconv.FormatUint(k, 10) }

func (Uint64) DecodeKey(id string) (uint64, error) {
	k, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("keycodec: decode uint64 key %q: %w", id, err)
	}
	return k, nil
}
