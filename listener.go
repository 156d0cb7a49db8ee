package doccache

import (
	"context"
	"sync"
)

// kindSet is the capability bitmask of one listener, computed once at
// registration.
type kindSet uint8

func (s kindSet) has(k Kind) bool { return s&(1<<k) != 0 }

// capabilities reports which event kinds l can receive for this cache's
// type parameters.
func capabilities[K comparable, V any](l any) kindSet {
	var s kindSet
	if _, ok := l.(CreatedListener[K, V]); ok {
		s |= 1 << Created
	}
	if _, ok := l.(UpdatedListener[K, V]); ok {
		s |= 1 << Updated
	}
	if _, ok := l.(RemovedListener[K, V]); ok {
		s |= 1 << Removed
	}
	if _, ok := l.(ExpiredListener[K, V]); ok {
		s |= 1 << Expired
	}
	return s
}

// registration is one registered binding plus its cached capability set.
type registration[K comparable, V any] struct {
	binding Binding[K, V]
	kinds   kindSet
}

// dispatcher buffers events per kind and delivers them to registered
// bindings in a fixed kind order. One dispatcher serves one cache.
//
// Lock order is mu before regMu; nothing takes mu while holding regMu.
type dispatcher[K comparable, V any] struct {
	source   string
	log      Logger
	asyncBuf int

	regMu sync.RWMutex
	regs  []registration[K, V]

	mu      sync.Mutex // serializes queue/dispatch, guards pending and worker
	pending map[Kind][]Event[K, V]
	worker  *asyncWorker[K, V]
}

func newDispatcher[K comparable, V any](source string, log Logger, asyncBuf int) *dispatcher[K, V] {
	return &dispatcher[K, V]{
		source:   source,
		log:      log,
		asyncBuf: asyncBuf,
		pending:  make(map[Kind][]Event[K, V], 4),
	}
}

// register adds a binding. The listener's capability set is computed here,
// once; a listener with no capability for K, V is rejected, as is a binding
// equal to one already registered.
func (d *dispatcher[K, V]) register(b Binding[K, V]) error {
	kinds := capabilities[K, V](b.Listener)
	if kinds == 0 {
		return ErrNoCapability
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.regMu.Lock()
	defer d.regMu.Unlock()

	for _, r := range d.regs {
		if r.binding == b {
			return ErrDuplicateBinding
		}
	}
	d.regs = append(d.regs, registration[K, V]{binding: b, kinds: kinds})
	if b.Async && d.worker == nil {
		d.worker = newAsyncWorker[K, V](d.asyncBuf, d.log)
	}
	return nil
}

// deregister removes the binding structurally equal to b and reports whether
// one was registered.
func (d *dispatcher[K, V]) deregister(b Binding[K, V]) bool {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	for i, r := range d.regs {
		if r.binding == b {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return true
		}
	}
	return false
}

func (d *dispatcher[K, V]) hasListeners() bool {
	d.regMu.RLock()
	defer d.regMu.RUnlock()
	return len(d.regs) > 0
}

// queue buffers events for a later dispatch.
func (d *dispatcher[K, V]) queue(evts ...Event[K, V]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueLocked(evts...)
}

func (d *dispatcher[K, V]) queueLocked(evts ...Event[K, V]) {
	for _, e := range evts {
		d.pending[e.Kind] = append(d.pending[e.Kind], e)
	}
}

// dispatch drains everything queued so far and delivers it: kinds in
// dispatchOrder, bindings in registration order, one callback per kind per
// binding with that binding's filtered batch. The drained events are
// consumed whether or not delivery succeeds.
func (d *dispatcher[K, V]) dispatch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchLocked(ctx)
}

// queueAndDispatch delivers evts plus anything already pending in one pass.
func (d *dispatcher[K, V]) queueAndDispatch(ctx context.Context, evts ...Event[K, V]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueLocked(evts...)
	return d.dispatchLocked(ctx)
}

func (d *dispatcher[K, V]) dispatchLocked(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	batches := d.pending
	d.pending = make(map[Kind][]Event[K, V], 4)

	d.regMu.RLock()
	regs := make([]registration[K, V], len(d.regs))
	copy(regs, d.regs)
	d.regMu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	for _, kind := range dispatchOrder {
		evts := batches[kind]
		if len(evts) == 0 {
			continue
		}
		for _, reg := range regs {
			if !reg.kinds.has(kind) {
				continue
			}
			selected := filterFor(reg.binding, evts)
			if len(selected) == 0 {
				continue
			}
			if reg.binding.Async {
				// Blocking send: events are never dropped. The worker
				// never takes d.mu, so this cannot deadlock.
				d.worker.q <- asyncDelivery[K, V]{listener: reg.binding.Listener, kind: kind, events: selected}
				continue
			}
			if err := deliver(ctx, reg.binding.Listener, kind, selected); err != nil {
				return &ListenerError{Kind: kind, Err: err}
			}
		}
	}
	return nil
}

// close drops pending events and stops the async worker after it drains.
func (d *dispatcher[K, V]) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = make(map[Kind][]Event[K, V], 4)
	if d.worker != nil {
		d.worker.close()
		d.worker = nil
	}
}

// filterFor shapes one kind batch for one binding: old values are stripped
// unless requested, then the binding's filter selects.
func filterFor[K comparable, V any](b Binding[K, V], evts []Event[K, V]) []Event[K, V] {
	var zero V
	out := make([]Event[K, V], 0, len(evts))
	for _, e := range evts {
		if !b.OldValue && e.HasOldValue {
			e.OldValue = zero
			e.HasOldValue = false
		}
		if b.Filter != nil && !b.Filter.Match(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// deliver invokes the capability callback for kind. The caller guarantees,
// via the registration's kind set, that the assertion holds.
func deliver[K comparable, V any](ctx context.Context, l any, kind Kind, evts []Event[K, V]) error {
	switch kind {
	case Created:
		return l.(CreatedListener[K, V]).OnCreated(ctx, evts)
	case Updated:
		return l.(UpdatedListener[K, V]).OnUpdated(ctx, evts)
	case Removed:
		return l.(RemovedListener[K, V]).OnRemoved(ctx, evts)
	case Expired:
		return l.(ExpiredListener[K, V]).OnExpired(ctx, evts)
	}
	return nil
}

// asyncWorker runs Async bindings' callbacks off the mutating goroutine. A
// single worker keeps deliveries in dispatch order.
type asyncWorker[K comparable, V any] struct {
	q    chan asyncDelivery[K, V]
	done chan struct{}
	log  Logger
}

type asyncDelivery[K comparable, V any] struct {
	listener any
	kind     Kind
	events   []Event[K, V]
}

func newAsyncWorker[K comparable, V any](buf int, log Logger) *asyncWorker[K, V] {
	w := &asyncWorker[K, V]{
		q:    make(chan asyncDelivery[K, V], buf),
		done: make(chan struct{}),
		log:  log,
	}
	go w.run()
	return w
}

func (w *asyncWorker[K, V]) run() {
	defer close(w.done)
	for dl := range w.q {
		// The triggering operation may long be over; callbacks get a
		// fresh context.
		if err := deliver(context.Background(), dl.listener, dl.kind, dl.events); err != nil {
			w.log.Error("async listener failed", Fields{"kind": dl.kind.String(), "err": err})
		}
	}
}

// close drains the queue and waits for the worker to exit. Callers hold the
// dispatcher mutex, so no send can race the channel close.
func (w *asyncWorker[K, V]) close() {
	close(w.q)
	<-w.done
}
