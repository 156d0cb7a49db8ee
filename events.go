package doccache

import "context"

// Kind classifies a cache mutation observed by listeners.
type Kind uint8

const (
	Created Kind = iota + 1
	Updated
	Removed
	Expired
)

// dispatchOrder is the fixed delivery order across kinds within one dispatch.
var dispatchOrder = [...]Kind{Expired, Created, Updated, Removed}

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event describes one observed mutation of a cache entry.
//
// Value carries the new value for Created and Updated, and the value that
// went away for Removed and Expired. OldValue is populated only for bindings
// that requested it, and only where a previous value exists.
type Event[K comparable, V any] struct {
	Kind        Kind
	Key         K
	Value       V
	OldValue    V
	HasOldValue bool
	Source      string // name of the cache that observed the mutation
}

// A listener implements any subset of the capability interfaces below; its
// binding receives callbacks only for the kinds it can handle. Each callback
// gets every event of its kind from one dispatch batch that passed the
// binding's filter. An error from a synchronous binding aborts the rest of
// that dispatch.
//
// Callbacks must not invoke operations on the cache that delivered them.

type CreatedListener[K comparable, V any] interface {
	OnCreated(ctx context.Context, events []Event[K, V]) error
}

type UpdatedListener[K comparable, V any] interface {
	OnUpdated(ctx context.Context, events []Event[K, V]) error
}

type RemovedListener[K comparable, V any] interface {
	OnRemoved(ctx context.Context, events []Event[K, V]) error
}

type ExpiredListener[K comparable, V any] interface {
	OnExpired(ctx context.Context, events []Event[K, V]) error
}

// Filter selects the events a binding wants delivered. Events are filtered
// after old-value stripping, so the filter sees exactly what the listener
// would.
type Filter[K comparable, V any] interface {
	Match(Event[K, V]) bool
}

// Binding pairs a listener with its delivery options. Bindings are compared
// by value: deregistration requires a binding equal to the registered one
// (same listener, same filter, same flags). Use comparable listener and
// filter types; pointers always are.
type Binding[K comparable, V any] struct {
	// Listener must implement at least one capability interface.
	Listener any

	// Filter drops events before delivery. Nil delivers everything.
	Filter Filter[K, V]

	// OldValue requests Event.OldValue population where available.
	OldValue bool

	// Async moves this binding's callbacks onto the cache's delivery
	// worker. Worker-side errors are logged, never returned, and cannot
	// abort a dispatch.
	Async bool
}
