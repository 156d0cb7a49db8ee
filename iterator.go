package doccache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/doccache/keycodec"
	"github.com/unkn0wn-root/doccache/store"
)

// Entry is one key/value pair produced by an Iterator.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// notification is one element of the producer/consumer bridge: a fetched
// document, a terminal failure, or a terminal end-of-stream. Exactly one
// terminal notification ends every stream.
type notification struct {
	doc   store.Document
	start time.Time // when the fetch for doc was issued
	err   error
	done  bool
}

// iterHook observes iteration progress. start is the time the fetch for doc
// was issued. Hooks run before the document is exposed to the consumer and
// must be cheap.
type iterHook func(start time.Time, doc store.Document)

type iterConfig[K comparable, V any] struct {
	keys     keycodec.Codec[K]
	decode   func([]byte) (V, error)
	fetch    func(ctx context.Context, id string) (store.Document, bool, error)
	remove   func(ctx context.Context, doc store.Document) error
	onItem   iterHook
	onRemove iterHook
	buffer   int
}

// Iterator walks a cache's documents in enumeration order. A producer
// goroutine follows the id stream, fetching documents and pushing them over
// a bounded channel; HasNext/Next pull from it. Not safe for concurrent use
// by multiple goroutines.
type Iterator[K comparable, V any] struct {
	cfg    iterConfig[K, V]
	ch     chan notification
	ctx    context.Context
	cancel context.CancelFunc

	// lookahead vs cursor: next holds the document HasNext read ahead,
	// current the one last returned by Next (the removal target).
	next         *store.Document
	nextStart    time.Time
	current      *store.Document
	currentStart time.Time

	failure  error
	finished bool
	closed   bool
}

func newIterator[K comparable, V any](ctx context.Context, stream store.IDStream, cfg iterConfig[K, V]) *Iterator[K, V] {
	sctx, cancel := context.WithCancel(ctx)
	it := &Iterator[K, V]{
		cfg:    cfg,
		ch:     make(chan notification, cfg.buffer),
		ctx:    sctx,
		cancel: cancel,
	}
	go it.produce(stream)
	return it
}

// produce drives the id stream: fetch, observe, push. Sends select on the
// session context so an abandoned consumer never strands the producer.
func (it *Iterator[K, V]) produce(stream store.IDStream) {
	err := stream(it.ctx, func(id string) error {
		start := time.Now()
		doc, ok, err := it.cfg.fetch(it.ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			// gone between enumeration and fetch; not an error
			return nil
		}
		if it.cfg.onItem != nil {
			it.cfg.onItem(start, doc)
		}
		select {
		case it.ch <- notification{doc: doc, start: start}:
			return nil
		case <-it.ctx.Done():
			return it.ctx.Err()
		}
	})

	term := notification{done: true}
	if err != nil {
		term = notification{err: err}
	}
	select {
	case it.ch <- term:
	case <-it.ctx.Done():
	}
}

// HasNext reports whether another entry is available, blocking until the
// producer yields one or ends the stream. A mid-stream failure is latched:
// every call from then on returns it, so a consumer that saw entries before
// the failure still observes it.
func (it *Iterator[K, V]) HasNext() (bool, error) {
	if it.closed {
		return false, ErrClosed
	}
	if it.failure != nil {
		return false, it.failure
	}
	if it.next != nil {
		return true, nil
	}
	if it.finished {
		return false, nil
	}

	select {
	case n := <-it.ch:
		switch {
		case n.err != nil:
			it.failure = fmt.Errorf("doccache: iteration failed: %w", n.err)
			return false, it.failure
		case n.done:
			it.finished = true
			return false, nil
		default:
			doc := n.doc
			it.next = &doc
			it.nextStart = n.start
			return true, nil
		}
	case <-it.ctx.Done():
		it.failure = fmt.Errorf("doccache: iteration canceled: %w", it.ctx.Err())
		return false, it.failure
	}
}

// Next returns the next entry and makes it the removal target. Past the end
// it returns ErrExhausted; after a latched failure, that failure. A decode
// error surfaces loudly and leaves no removal target.
func (it *Iterator[K, V]) Next() (Entry[K, V], error) {
	var zero Entry[K, V]
	ok, err := it.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrExhausted
	}

	doc := it.next
	start := it.nextStart
	it.next = nil
	it.current = nil

	key, err := it.cfg.keys.DecodeKey(doc.ID)
	if err != nil {
		return zero, fmt.Errorf("doccache: decode id %q: %w", doc.ID, err)
	}
	val, err := it.cfg.decode(doc.Content)
	if err != nil {
		return zero, fmt.Errorf("doccache: decode document %q: %w", doc.ID, err)
	}
	it.current = doc
	it.currentStart = start
	return Entry[K, V]{Key: key, Value: val}, nil
}

// Remove deletes the entry last returned by Next, at most once per entry.
// The store arbitrates: if the document changed since its fetch, the CAS
// guarded delete fails and the entry stays. A delivery failure after a
// successful delete (ListenerError) still consumes the removal target.
func (it *Iterator[K, V]) Remove() error {
	if it.closed {
		return ErrClosed
	}
	if it.current == nil {
		return ErrNoCurrent
	}

	doc := *it.current
	err := it.cfg.remove(it.ctx, doc)

	var le *ListenerError
	if err == nil || errors.As(err, &le) {
		it.current = nil
		if it.cfg.onRemove != nil {
			it.cfg.onRemove(it.currentStart, doc)
		}
	}
	return err
}

// Close stops the iteration and releases the producer. Idempotent.
func (it *Iterator[K, V]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.next = nil
	it.current = nil
	it.cancel()
	return nil
}
