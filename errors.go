package doccache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed reports an operation on a closed cache, manager or iterator.
	ErrClosed = errors.New("doccache: closed")

	// ErrExhausted reports Next called past the end of an iteration.
	ErrExhausted = errors.New("doccache: iterator exhausted")

	// ErrNoCurrent reports Remove with no current entry: before the first
	// Next, after a failed Next, or twice for the same entry.
	ErrNoCurrent = errors.New("doccache: no current entry")

	// ErrTTLTooLong reports a TTL beyond the 30 day ceiling.
	ErrTTLTooLong = errors.New("doccache: ttl exceeds 30 days")

	// ErrCacheExists reports a manager OpenCache with a name already in use.
	ErrCacheExists = errors.New("doccache: cache name in use")

	// ErrNoCapability reports a listener that implements none of the
	// capability interfaces for its cache's type parameters.
	ErrNoCapability = errors.New("doccache: listener implements no event interface")

	// ErrDuplicateBinding reports registering a binding equal to one that is
	// already registered.
	ErrDuplicateBinding = errors.New("doccache: binding already registered")
)

// ListenerError reports a listener callback failure during dispatch. Events
// delivered before the failure stay delivered and the pending batch is
// consumed; nothing is redelivered.
type ListenerError struct {
	Kind Kind
	Err  error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("doccache: %s listener failed: %v", e.Kind, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
