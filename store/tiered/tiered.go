// Package tiered decorates a document store with a process-local read tier.
//
// Reads consult the near cache first; inner hits populate it. Every write,
// removal and touch invalidates the near entry before delegating, so the
// local process never reads its own stale write. Other processes converge
// within the near TTL bound.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/doccache/internal/docwire"
	"github.com/unkn0wn-root/doccache/near"
	"github.com/unkn0wn-root/doccache/store"
)

const defaultNearTTL = 5 * time.Second

type Store struct {
	inner     store.Store
	near      near.Cache
	ttl       time.Duration
	closeNear bool
}

var _ store.Store = (*Store)(nil)

type Config struct {
	// NearTTL bounds how long a near entry may serve reads, and with it the
	// cross-process staleness window. Default 5s.
	NearTTL time.Duration
	// CloseNear releases the near cache on Close. Set true only if this
	// store exclusively owns it.
	CloseNear bool
}

// New wraps inner. The tiered store owns inner from here on and closes it
// with Close; the near cache only when cfg.CloseNear says so.
func New(inner store.Store, nc near.Cache, cfg Config) (*Store, error) {
	if inner == nil {
		return nil, errors.New("tiered store: nil inner store")
	}
	if nc == nil {
		return nil, errors.New("tiered store: nil near cache")
	}
	ttl := cfg.NearTTL
	if ttl <= 0 {
		ttl = defaultNearTTL
	}
	return &Store{inner: inner, near: nc, ttl: ttl, closeNear: cfg.CloseNear}, nil
}

func (s *Store) Get(ctx context.Context, id string) (store.Document, bool, error) {
	if b, ok := s.near.Get(id); ok {
		doc, err := docwire.Decode(id, b)
		if err == nil && !doc.Expired(time.Now()) {
			return doc, true, nil
		}
		// corrupt or past its expiry; drop and go to the inner store
		s.near.Del(id)
	}
	doc, ok, err := s.inner.Get(ctx, id)
	if err != nil || !ok {
		return doc, ok, err
	}
	s.populate(doc)
	return doc, true, nil
}

func (s *Store) Insert(ctx context.Context, doc store.Document) (uint64, error) {
	s.near.Del(doc.ID)
	return s.inner.Insert(ctx, doc)
}

func (s *Store) Upsert(ctx context.Context, doc store.Document) (uint64, error) {
	s.near.Del(doc.ID)
	return s.inner.Upsert(ctx, doc)
}

func (s *Store) Remove(ctx context.Context, doc store.Document) error {
	s.near.Del(doc.ID)
	return s.inner.Remove(ctx, doc)
}

func (s *Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	s.near.Del(id)
	return s.inner.Touch(ctx, id, expiresAt)
}

func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	if b, ok := s.near.Get(id); ok {
		if doc, err := docwire.Decode(id, b); err == nil && !doc.Expired(time.Now()) {
			return true, nil
		}
	}
	return s.inner.Has(ctx, id)
}

// Enumerate passes through; the near tier holds no index state.
func (s *Store) Enumerate(ctx context.Context, index string) (store.IDStream, error) {
	return s.inner.Enumerate(ctx, index)
}

func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.closeNear {
		if c, ok := s.near.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.inner.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// populate caches doc for at most the configured TTL, clipped so the near
// entry never outlives the document itself.
func (s *Store) populate(doc store.Document) {
	ttl := s.ttl
	if !doc.ExpiresAt.IsZero() {
		remaining := time.Until(doc.ExpiresAt)
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	s.near.Set(doc.ID, docwire.Encode(doc), ttl)
}
