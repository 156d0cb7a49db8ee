package keycodec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPrefix reports a document id that does not carry the expected prefix.
var ErrPrefix = errors.New("keycodec: id does not carry the cache prefix")

// Prefixed namespaces another codec's ids, for stores shared between caches.
// Ids without the prefix fail to decode rather than silently aliasing into
// a foreign cache's key space.
type Prefixed[K any] struct {
	prefix string
	inner  Codec[K]
}

func NewPrefixed[K any](prefix string, inner Codec[K]) Prefixed[K] {
	return Prefixed[K]{prefix: prefix, inner: inner}
}

func (p Prefixed[K]) EncodeKey(k K) string {
	return p.prefix + p.inner.EncodeKey(k)
}

func (p Prefixed[K]) DecodeKey(id string) (K, error) {
	rest, ok := strings.CutPrefix(id, p.prefix)
	if !ok {
		var zero K
		return zero, fmt.Errorf("keycodec: decode %q: %w", id, ErrPrefix)
	}
	return p.inner.DecodeKey(rest)
}
