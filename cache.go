package doccache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/doccache/codec"
	"github.com/unkn0wn-root/doccache/keycodec"
	"github.com/unkn0wn-root/doccache/store"
)

type cache[K comparable, V any] struct {
	name      string
	store     store.Store
	keys      keycodec.Codec[K]
	values    codec.Codec[V]
	index     string
	ttl       time.Duration
	accessTTL time.Duration
	loader    Loader[K, V]
	log       Logger
	stats     StatsRecorder
	iterBuf   int

	events *dispatcher[K, V]

	closed  atomic.Bool
	onClose func(ctx context.Context) // set by Manager for registry release
}

var _ Cache[string, int] = (*cache[string, int])(nil)

func newCache[K comparable, V any](opts Options[K, V]) (*cache[K, V], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("doccache: name is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("doccache: store is required")
	}
	if opts.KeyCodec == nil {
		return nil, fmt.Errorf("doccache: key codec is required")
	}
	if opts.ValueCodec == nil {
		return nil, fmt.Errorf("doccache: value codec is required")
	}
	if opts.TTL < 0 || opts.AccessTTL < 0 {
		return nil, fmt.Errorf("doccache: negative ttl")
	}
	if opts.TTL > maxTTL || opts.AccessTTL > maxTTL {
		return nil, ErrTTLTooLong
	}
	if opts.IterationBuffer < 0 || opts.AsyncBuffer < 0 {
		return nil, fmt.Errorf("doccache: negative buffer size")
	}

	c := &cache[K, V]{
		name:      opts.Name,
		store:     opts.Store,
		keys:      opts.KeyCodec,
		values:    opts.ValueCodec,
		ttl:       opts.TTL,
		accessTTL: opts.AccessTTL,
		loader:    opts.Loader,
	}

	// defaults
	if opts.KeyPrefix != "" {
		c.keys = keycodec.NewPrefixed(opts.KeyPrefix, opts.KeyCodec)
	}
	c.index = coalesce(opts.Index, opts.Name)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.stats = coalesce[StatsRecorder](opts.Stats, NopStats{})
	c.iterBuf = coalesce(opts.IterationBuffer, defaultIterationBuffer)
	c.events = newDispatcher[K, V](opts.Name, c.log, coalesce(opts.AsyncBuffer, defaultAsyncBuffer))

	return c, nil
}

func (c *cache[K, V]) Name() string { return c.name }

// Close marks the cache closed and stops the event delivery worker. The
// store handle is not closed here; its owner (caller or Manager) does that.
// Open iteration sessions keep their own context and finish independently.
func (c *cache[K, V]) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.events.close()
	if c.onClose != nil {
		c.onClose(ctx)
	}
	return nil
}

func (c *cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if c.closed.Load() {
		return zero, false, ErrClosed
	}
	start := time.Now()
	id := c.keys.EncodeKey(key)

	doc, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: get %q: %w", id, err)
	}
	if ok && doc.Expired(time.Now()) {
		if err := c.expire(ctx, key, doc); err != nil {
			return zero, false, err
		}
		ok = false
	}
	if !ok {
		c.stats.IncMisses()
		if c.loader == nil {
			c.stats.ObserveGet(time.Since(start))
			return zero, false, nil
		}
		v, found, err := c.loadThrough(ctx, key, id)
		c.stats.ObserveGet(time.Since(start))
		return v, found, err
	}

	v, err := c.values.Decode(doc.Content)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: decode document %q: %w", id, err)
	}
	c.touchOnAccess(ctx, id)
	c.stats.IncHits()
	c.stats.ObserveGet(time.Since(start))
	return v, true, nil
}

func (c *cache[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	id := c.keys.EncodeKey(key)
	doc, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("doccache: get %q: %w", id, err)
	}
	if ok && doc.Expired(time.Now()) {
		if err := c.expire(ctx, key, doc); err != nil {
			return false, err
		}
		return false, nil
	}
	return ok, nil
}

func (c *cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	out := make(map[K]V, len(keys))
	for _, key := range keys {
		v, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

func (c *cache[K, V]) Put(ctx context.Context, key K, value V) error {
	_, _, err := c.put(ctx, key, value, false, false)
	return err
}

func (c *cache[K, V]) GetAndPut(ctx context.Context, key K, value V) (V, bool, error) {
	return c.put(ctx, key, value, true, false)
}

func (c *cache[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	for key, value := range entries {
		if _, _, err := c.put(ctx, key, value, false, true); err != nil {
			c.flushAfterError(ctx)
			return err
		}
	}
	return c.events.dispatch(ctx)
}

// put writes key=value. The old document is pre-read when the caller wants
// the prior value or listeners are registered (the event kind and old value
// depend on it). With batch set, the event is queued instead of dispatched.
func (c *cache[K, V]) put(ctx context.Context, key K, value V, wantOld, batch bool) (V, bool, error) {
	var zero V
	if c.closed.Load() {
		return zero, false, ErrClosed
	}
	start := time.Now()
	id := c.keys.EncodeKey(key)

	var (
		old    V
		hadOld bool
	)
	if wantOld || c.events.hasListeners() {
		doc, ok, err := c.store.Get(ctx, id)
		if err != nil {
			return zero, false, fmt.Errorf("doccache: get %q: %w", id, err)
		}
		if ok && !doc.Expired(time.Now()) {
			if old, err = c.values.Decode(doc.Content); err != nil {
				c.log.Warn("undecodable previous value", Fields{"id": id, "err": err})
			} else {
				hadOld = true
			}
		}
	}

	content, err := c.values.Encode(value)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: encode %q: %w", id, err)
	}
	if _, err := c.store.Upsert(ctx, store.Document{ID: id, Content: content, ExpiresAt: c.expiresAt()}); err != nil {
		return zero, false, fmt.Errorf("doccache: put %q: %w", id, err)
	}
	c.stats.IncPuts()
	c.stats.ObservePut(time.Since(start))

	evt := Event[K, V]{Kind: Created, Key: key, Value: value, Source: c.name}
	if hadOld {
		evt.Kind = Updated
		evt.OldValue = old
		evt.HasOldValue = true
	}
	if batch {
		c.events.queue(evt)
		return old, hadOld, nil
	}
	if err := c.events.queueAndDispatch(ctx, evt); err != nil {
		return old, hadOld, err
	}
	return old, hadOld, nil
}

func (c *cache[K, V]) PutIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	start := time.Now()
	id := c.keys.EncodeKey(key)

	content, err := c.values.Encode(value)
	if err != nil {
		return false, fmt.Errorf("doccache: encode %q: %w", id, err)
	}
	_, err = c.store.Insert(ctx, store.Document{ID: id, Content: content, ExpiresAt: c.expiresAt()})
	if errors.Is(err, store.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("doccache: put if absent %q: %w", id, err)
	}
	c.stats.IncPuts()
	c.stats.ObservePut(time.Since(start))

	if err := c.events.queueAndDispatch(ctx, Event[K, V]{Kind: Created, Key: key, Value: value, Source: c.name}); err != nil {
		return true, err
	}
	return true, nil
}

func (c *cache[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	_, ok, err := c.removeKey(ctx, key, nil, false)
	return ok, err
}

func (c *cache[K, V]) GetAndRemove(ctx context.Context, key K) (V, bool, error) {
	return c.removeKey(ctx, key, nil, false)
}

func (c *cache[K, V]) RemoveValue(ctx context.Context, key K, value V) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	expect, err := c.values.Encode(value)
	if err != nil {
		return false, fmt.Errorf("doccache: encode %q: %w", c.keys.EncodeKey(key), err)
	}
	_, ok, err := c.removeKey(ctx, key, expect, false)
	return ok, err
}

// removeKey reads the current document and CAS-removes it. A non-nil expect
// narrows removal to documents whose content equals it byte-for-byte. The
// store arbitrates the delete: losing the CAS race surfaces as an error.
func (c *cache[K, V]) removeKey(ctx context.Context, key K, expect []byte, batch bool) (V, bool, error) {
	var zero V
	if c.closed.Load() {
		return zero, false, ErrClosed
	}
	start := time.Now()
	id := c.keys.EncodeKey(key)

	doc, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: get %q: %w", id, err)
	}
	if ok && doc.Expired(time.Now()) {
		if err := c.expire(ctx, key, doc); err != nil {
			return zero, false, err
		}
		ok = false
	}
	if !ok {
		return zero, false, nil
	}
	if expect != nil && !bytes.Equal(doc.Content, expect) {
		return zero, false, nil
	}

	old, err := c.values.Decode(doc.Content)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: decode document %q: %w", id, err)
	}
	if err := c.store.Remove(ctx, doc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("doccache: remove %q: %w", id, err)
	}
	c.stats.IncRemovals()
	c.stats.ObserveRemove(time.Since(start))

	evt := Event[K, V]{Kind: Removed, Key: key, Value: old, OldValue: old, HasOldValue: true, Source: c.name}
	if batch {
		c.events.queue(evt)
		return old, true, nil
	}
	if err := c.events.queueAndDispatch(ctx, evt); err != nil {
		return old, true, err
	}
	return old, true, nil
}

func (c *cache[K, V]) Replace(ctx context.Context, key K, value V) (bool, error) {
	_, ok, err := c.replaceKey(ctx, key, value, nil)
	return ok, err
}

func (c *cache[K, V]) GetAndReplace(ctx context.Context, key K, value V) (V, bool, error) {
	return c.replaceKey(ctx, key, value, nil)
}

func (c *cache[K, V]) ReplaceValue(ctx context.Context, key K, oldValue, newValue V) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	expect, err := c.values.Encode(oldValue)
	if err != nil {
		return false, fmt.Errorf("doccache: encode %q: %w", c.keys.EncodeKey(key), err)
	}
	_, ok, err := c.replaceKey(ctx, key, newValue, expect)
	return ok, err
}

// replaceKey swaps the value of an existing entry under its observed CAS.
// Absent (or expired) entries report false; a lost CAS race is an error.
func (c *cache[K, V]) replaceKey(ctx context.Context, key K, value V, expect []byte) (V, bool, error) {
	var zero V
	if c.closed.Load() {
		return zero, false, ErrClosed
	}
	start := time.Now()
	id := c.keys.EncodeKey(key)

	doc, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: get %q: %w", id, err)
	}
	if ok && doc.Expired(time.Now()) {
		if err := c.expire(ctx, key, doc); err != nil {
			return zero, false, err
		}
		ok = false
	}
	if !ok {
		return zero, false, nil
	}
	if expect != nil && !bytes.Equal(doc.Content, expect) {
		return zero, false, nil
	}

	old, err := c.values.Decode(doc.Content)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: decode document %q: %w", id, err)
	}
	content, err := c.values.Encode(value)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: encode %q: %w", id, err)
	}
	next := store.Document{ID: id, Content: content, CAS: doc.CAS, ExpiresAt: c.expiresAt()}
	if _, err := c.store.Upsert(ctx, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("doccache: replace %q: %w", id, err)
	}
	c.stats.IncPuts()
	c.stats.ObservePut(time.Since(start))

	evt := Event[K, V]{Kind: Updated, Key: key, Value: value, OldValue: old, HasOldValue: true, Source: c.name}
	if err := c.events.queueAndDispatch(ctx, evt); err != nil {
		return old, true, err
	}
	return old, true, nil
}

func (c *cache[K, V]) RemoveAll(ctx context.Context, keys ...K) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return c.removeEverything(ctx)
	}
	for _, key := range keys {
		if _, _, err := c.removeKey(ctx, key, nil, true); err != nil {
			c.flushAfterError(ctx)
			return err
		}
	}
	return c.events.dispatch(ctx)
}

// removeEverything drains the cache through an iteration session, removing
// every entry, and reports all removals in one dispatch. Entries that change
// or vanish mid-drain are skipped; the store already arbitrated those races.
func (c *cache[K, V]) removeEverything(ctx context.Context) error {
	stream, err := c.enumerate(ctx)
	if err != nil {
		return err
	}
	it := newIterator(ctx, stream, iterConfig[K, V]{
		keys:   c.keys,
		decode: c.values.Decode,
		fetch:  c.fetchLive,
		remove: c.removeQueued,
		onRemove: func(start time.Time, _ store.Document) {
			c.stats.IncRemovals()
			c.stats.ObserveRemove(time.Since(start))
		},
		buffer: c.iterBuf,
	})
	defer it.Close()

	for {
		ok, err := it.HasNext()
		if err != nil {
			c.flushAfterError(ctx)
			return err
		}
		if !ok {
			break
		}
		if _, err := it.Next(); err != nil {
			c.flushAfterError(ctx)
			return err
		}
		if err := it.Remove(); err != nil &&
			!errors.Is(err, store.ErrCASMismatch) && !errors.Is(err, store.ErrNotFound) {
			c.flushAfterError(ctx)
			return err
		}
	}
	return c.events.dispatch(ctx)
}

// Clear empties the cache without notifying anyone: no events, no removal
// stats. Entries are deleted under the CAS observed at fetch; ones that
// moved in the meantime are left to their new version.
func (c *cache[K, V]) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	stream, err := c.enumerate(ctx)
	if err != nil {
		return err
	}
	it := newIterator(ctx, stream, iterConfig[K, V]{
		keys:   c.keys,
		decode: func([]byte) (V, error) { var zero V; return zero, nil },
		fetch:  c.fetchRaw,
		remove: c.store.Remove,
		buffer: c.iterBuf,
	})
	defer it.Close()

	for {
		ok, err := it.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := it.Next(); err != nil {
			return err
		}
		if err := it.Remove(); err != nil &&
			!errors.Is(err, store.ErrCASMismatch) && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
}

// Entries opens an iteration session over the whole cache. Removal through
// the iterator is CAS-checked against the fetched document and reported as
// a Removed event per entry.
func (c *cache[K, V]) Entries(ctx context.Context) (*Iterator[K, V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stream, err := c.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	return newIterator(ctx, stream, iterConfig[K, V]{
		keys:   c.keys,
		decode: c.values.Decode,
		fetch:  c.fetchLive,
		remove: c.removeDispatched,
		onItem: func(start time.Time, _ store.Document) {
			c.stats.ObserveGet(time.Since(start))
		},
		onRemove: func(start time.Time, _ store.Document) {
			c.stats.IncRemovals()
			c.stats.ObserveRemove(time.Since(start))
		},
		buffer: c.iterBuf,
	}), nil
}

func (c *cache[K, V]) RegisterListener(b Binding[K, V]) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.events.register(b)
}

func (c *cache[K, V]) DeregisterListener(b Binding[K, V]) bool {
	return c.events.deregister(b)
}

// enumerate validates the cache's key index and opens the id stream.
func (c *cache[K, V]) enumerate(ctx context.Context) (store.IDStream, error) {
	stream, err := c.store.Enumerate(ctx, c.index)
	if err != nil {
		if errors.Is(err, store.ErrIndexNotFound) {
			return nil, fmt.Errorf("doccache: key index %q for cache %q not found (was it provisioned?): %w",
				c.index, c.name, err)
		}
		return nil, fmt.Errorf("doccache: enumerate %q: %w", c.index, err)
	}
	return stream, nil
}

// fetchRaw reads a document with no expiry handling.
func (c *cache[K, V]) fetchRaw(ctx context.Context, id string) (store.Document, bool, error) {
	return c.store.Get(ctx, id)
}

// fetchLive reads a document, reaping and reporting it when it turns out to
// be expired. Used by iteration sessions; runs on the producer goroutine.
func (c *cache[K, V]) fetchLive(ctx context.Context, id string) (store.Document, bool, error) {
	doc, ok, err := c.store.Get(ctx, id)
	if err != nil || !ok {
		return store.Document{}, false, err
	}
	if !doc.Expired(time.Now()) {
		return doc, true, nil
	}
	key, err := c.keys.DecodeKey(id)
	if err != nil {
		return store.Document{}, false, err
	}
	if err := c.expire(ctx, key, doc); err != nil {
		return store.Document{}, false, err
	}
	return store.Document{}, false, nil
}

// removeDispatched is the Entries removal path: CAS delete, then report the
// removal on its own dispatch.
func (c *cache[K, V]) removeDispatched(ctx context.Context, doc store.Document) error {
	evt, err := c.removeDoc(ctx, doc)
	if err != nil {
		return err
	}
	return c.events.queueAndDispatch(ctx, evt)
}

// removeQueued is the bulk removal path: CAS delete, event queued for the
// caller's single dispatch.
func (c *cache[K, V]) removeQueued(ctx context.Context, doc store.Document) error {
	evt, err := c.removeDoc(ctx, doc)
	if err != nil {
		return err
	}
	c.events.queue(evt)
	return nil
}

func (c *cache[K, V]) removeDoc(ctx context.Context, doc store.Document) (Event[K, V], error) {
	if err := c.store.Remove(ctx, doc); err != nil {
		return Event[K, V]{}, fmt.Errorf("doccache: remove %q: %w", doc.ID, err)
	}
	key, err := c.keys.DecodeKey(doc.ID)
	if err != nil {
		// the id decoded when Next produced this entry; losing the event
		// beats failing a removal that already happened
		c.log.Warn("removed document with undecodable id", Fields{"id": doc.ID, "err": err})
		return Event[K, V]{Kind: Removed, Source: c.name}, nil
	}
	evt := Event[K, V]{Kind: Removed, Key: key, Source: c.name}
	if old, derr := c.values.Decode(doc.Content); derr == nil {
		evt.Value = old
		evt.OldValue = old
		evt.HasOldValue = true
	}
	return evt, nil
}

// expire reaps a lazily expired document and reports it to listeners. The
// delete is CAS-guarded; losing it to a concurrent writer is fine, the new
// version simply stands.
func (c *cache[K, V]) expire(ctx context.Context, key K, doc store.Document) error {
	if err := c.store.Remove(ctx, doc); err != nil &&
		!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCASMismatch) {
		c.log.Warn("expired document cleanup failed", Fields{"id": doc.ID, "err": err})
	}
	c.stats.IncExpiries()

	evt := Event[K, V]{Kind: Expired, Key: key, Source: c.name}
	if old, err := c.values.Decode(doc.Content); err == nil {
		evt.Value = old
		evt.OldValue = old
		evt.HasOldValue = true
	}
	return c.events.queueAndDispatch(ctx, evt)
}

// loadThrough runs the read-through loader after a miss and writes the
// loaded value back. Write-back failures degrade to an uncached read.
func (c *cache[K, V]) loadThrough(ctx context.Context, key K, id string) (V, bool, error) {
	var zero V
	v, ok, err := c.loader(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: load %q: %w", id, err)
	}
	if !ok {
		return zero, false, nil
	}
	content, err := c.values.Encode(v)
	if err != nil {
		return zero, false, fmt.Errorf("doccache: encode %q: %w", id, err)
	}
	if _, err := c.store.Upsert(ctx, store.Document{ID: id, Content: content, ExpiresAt: c.expiresAt()}); err != nil {
		c.log.Warn("loader write-back failed", Fields{"id": id, "err": err})
		return v, true, nil
	}
	if err := c.events.queueAndDispatch(ctx, Event[K, V]{Kind: Created, Key: key, Value: v, Source: c.name}); err != nil {
		return v, true, err
	}
	return v, true, nil
}

// touchOnAccess extends an entry's lifetime after a hit. Soft-path: the read
// already succeeded, so failures are logged, not returned.
func (c *cache[K, V]) touchOnAccess(ctx context.Context, id string) {
	if c.accessTTL <= 0 {
		return
	}
	if err := c.store.Touch(ctx, id, time.Now().Add(c.accessTTL)); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warn("touch on access failed", Fields{"id": id, "err": err})
	}
}

// flushAfterError delivers events queued before a failed bulk operation;
// their mutations happened and must not go unreported.
func (c *cache[K, V]) flushAfterError(ctx context.Context) {
	if err := c.events.dispatch(ctx); err != nil {
		c.log.Warn("event dispatch after failed bulk operation", Fields{"err": err})
	}
}

func (c *cache[K, V]) expiresAt() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}
