// Package store defines the document storage abstraction used by doccache.
//
// A store keeps versioned documents addressed by string id. Every resident
// document carries a CAS token that changes on each successful write; guarded
// operations pass the token back and the STORE arbitrates the race, never the
// caller. Implementations MUST be byte-for-byte transparent: Get must return
// exactly the Content previously written for an id, with no added metadata,
// re-encoding, or mutation.
//
// Each store handle serves one key index, named at construction. Successful
// writes record the id in that index and successful removals take it out, so
// Enumerate sees exactly the ids written through handles sharing the index.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExists reports an Insert of an id that is already resident.
	ErrExists = errors.New("store: document exists")

	// ErrNotFound reports a guarded write or Touch against an absent id.
	ErrNotFound = errors.New("store: document not found")

	// ErrCASMismatch reports a guarded write that lost the race: the stored
	// CAS no longer matches the one the caller observed.
	ErrCASMismatch = errors.New("store: cas mismatch")

	// ErrIndexNotFound reports an Enumerate against an index that was never
	// provisioned.
	ErrIndexNotFound = errors.New("store: index not found")
)

// Document is one stored entry. ID and Content arrive already encoded; the
// store treats both as opaque.
type Document struct {
	ID        string
	Content   []byte
	CAS       uint64    // compare-and-swap token; 0 = absent/unknown
	ExpiresAt time.Time // zero = no expiry
}

// Expired reports whether the document's expiry is set and at-or-before now.
func (d Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !d.ExpiresAt.After(now)
}

// IDStream enumerates document ids. It is single-use: run it once, then
// discard it. Returning a non-nil error from emit cancels the enumeration
// and the stream returns that error.
type IDStream func(ctx context.Context, emit func(id string) error) error

// Store is a versioned document store with TTLs and id enumeration.
// Implementations must be safe for concurrent use.
//
// Stores that expire lazily MAY return an already-expired document from Get;
// callers own the reaping. Writes go the other way: a resident expired
// document counts as absent, so Insert over one succeeds and guarded
// operations against one report ErrNotFound.
type Store interface {
	// Get returns (doc, true, nil) on hit and (zero, false, nil) on miss.
	Get(ctx context.Context, id string) (Document, bool, error)

	// Insert stores a new document, failing with ErrExists when the id is
	// resident. Returns the assigned CAS.
	Insert(ctx context.Context, doc Document) (uint64, error)

	// Upsert stores doc unconditionally when doc.CAS is 0. With a non-zero
	// CAS it replaces only the exact version the caller observed, failing
	// with ErrCASMismatch on a lost race and ErrNotFound when the document
	// vanished. Returns the new CAS.
	Upsert(ctx context.Context, doc Document) (uint64, error)

	// Remove deletes the document. A non-zero doc.CAS restricts deletion to
	// the observed version (ErrCASMismatch otherwise); absent documents are
	// ErrNotFound.
	Remove(ctx context.Context, doc Document) error

	// Touch rewrites the expiry of a resident document. ErrNotFound when
	// absent.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// Has reports residency without reading content.
	Has(ctx context.Context, id string) (bool, error)

	// Enumerate opens a stream over the ids recorded under the named key
	// index, or ErrIndexNotFound when no such index was provisioned.
	Enumerate(ctx context.Context, index string) (IDStream, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
