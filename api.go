package doccache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/doccache/codec"
	kc "github.com/unkn0wn-root/doccache/keycodec"
	"github.com/unkn0wn-root/doccache/store"
)

// Loader fetches the authoritative value for a key on a cache miss.
// ok=false means the key has no value and the miss stands.
type Loader[K comparable, V any] func(ctx context.Context, key K) (v V, ok bool, err error)

// maxTTL caps entry lifetimes; document stores commonly reinterpret longer
// relative TTLs as absolute timestamps.
const maxTTL = 30 * 24 * time.Hour

// Cache is the high-level, store-agnostic cache API. K is the caller's key
// type, V the value type; translation to store documents is handled by
// pluggable key and value codecs. All operations are safe for concurrent
// use and return ErrClosed after Close.
type Cache[K comparable, V any] interface {
	Name() string
	Close(ctx context.Context) error

	// Single-key
	Get(ctx context.Context, key K) (v V, ok bool, err error)
	ContainsKey(ctx context.Context, key K) (bool, error)
	Put(ctx context.Context, key K, value V) error
	GetAndPut(ctx context.Context, key K, value V) (old V, had bool, err error)
	PutIfAbsent(ctx context.Context, key K, value V) (bool, error)
	Remove(ctx context.Context, key K) (bool, error)
	RemoveValue(ctx context.Context, key K, value V) (bool, error)
	GetAndRemove(ctx context.Context, key K) (V, bool, error)
	Replace(ctx context.Context, key K, value V) (bool, error)
	ReplaceValue(ctx context.Context, key K, oldValue, newValue V) (bool, error)
	GetAndReplace(ctx context.Context, key K, value V) (V, bool, error)

	// Bulk
	GetAll(ctx context.Context, keys []K) (map[K]V, error)
	PutAll(ctx context.Context, entries map[K]V) error
	RemoveAll(ctx context.Context, keys ...K) error
	Clear(ctx context.Context) error

	// Iteration
	Entries(ctx context.Context) (*Iterator[K, V], error)

	// Events
	RegisterListener(b Binding[K, V]) error
	DeregisterListener(b Binding[K, V]) bool
}

// Options tune a Cache. Name, Store, KeyCodec and ValueCodec are required;
// others have sensible defaults.
type Options[K comparable, V any] struct {
	// Required
	Name       string // cache name; event source and default key index
	Store      store.Store
	KeyCodec   kc.Codec[K]
	ValueCodec c.Codec[V]

	KeyPrefix string        // prepended to every document id when the store is shared
	Index     string        // key index to enumerate; "" => Name
	TTL       time.Duration // entry lifetime applied on writes; 0 = no expiry
	AccessTTL time.Duration // when > 0, reads extend entry lifetime by this much
	Loader    Loader[K, V]  // read-through on miss

	Logger          Logger        // if nil, NopLogger is used
	Stats           StatsRecorder // if nil, NopStats is used
	IterationBuffer int           // producer/consumer bridge capacity; 0 => 16
	AsyncBuffer     int           // async listener queue capacity; 0 => 1024
}

// New builds a Cache over opts.Store. The store handle stays caller-owned:
// closing the cache does not close it. Use a Manager when stores should be
// opened and owned per cache.
func New[K comparable, V any](opts Options[K, V]) (Cache[K, V], error) {
	return newCache(opts)
}
