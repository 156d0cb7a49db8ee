// Package memstore provides an in-memory document store, for tests and
// single-process use. Expiry is lazy: Get hands back expired documents for
// the caller to reap, while writes treat them as already gone. An optional
// background sweep evicts what no one reads.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/doccache/store"
)

type Store struct {
	mu   sync.RWMutex
	docs map[string]store.Document
	cas  uint64 // last issued token

	index string

	sweep  time.Duration
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ store.Store = (*Store)(nil)

type Config struct {
	// Index is the key index this handle serves. Required.
	Index string
	// SweepInterval is how often the background sweep reaps expired
	// documents. Zero disables sweeping; expired documents then linger
	// until a write or an explicit removal reaps them.
	SweepInterval time.Duration
}

func New(cfg Config) (*Store, error) {
	if cfg.Index == "" {
		return nil, errors.New("memstore: index name is required")
	}
	s := &Store{
		docs:  make(map[string]store.Document),
		index: cfg.Index,
		sweep: cfg.SweepInterval,
		done:  make(chan struct{}),
	}
	if s.sweep > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, id string) (store.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return store.Document{}, false, nil
	}
	return doc, true, nil
}

func (s *Store) Insert(_ context.Context, doc store.Document) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.docs[doc.ID]; ok && !cur.Expired(time.Now()) {
		return 0, store.ErrExists
	}
	return s.write(doc), nil
}

func (s *Store) Upsert(_ context.Context, doc store.Document) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, live := s.live(doc.ID)
	if doc.CAS != 0 {
		if !live {
			return 0, store.ErrNotFound
		}
		if cur.CAS != doc.CAS {
			return 0, store.ErrCASMismatch
		}
	}
	return s.write(doc), nil
}

func (s *Store) Remove(_ context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, live := s.live(doc.ID)
	if !live {
		delete(s.docs, doc.ID) // reap an expired leftover while here
		return store.ErrNotFound
	}
	if doc.CAS != 0 && cur.CAS != doc.CAS {
		return store.ErrCASMismatch
	}
	delete(s.docs, doc.ID)
	return nil
}

func (s *Store) Touch(_ context.Context, id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, live := s.live(id)
	if !live {
		return store.ErrNotFound
	}
	cur.ExpiresAt = expiresAt
	s.cas++
	cur.CAS = s.cas
	s.docs[id] = cur
	return nil
}

func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.docs[id]
	return ok && !cur.Expired(time.Now()), nil
}

// Enumerate snapshots the resident ids in lexical order. Documents written
// or removed after the snapshot are not reflected in the stream.
func (s *Store) Enumerate(_ context.Context, index string) (store.IDStream, error) {
	if index != s.index {
		return nil, store.ErrIndexNotFound
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	return func(ctx context.Context, emit func(id string) error) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(id); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
	return nil
}

// write stores doc under a fresh CAS token. Callers hold mu.
func (s *Store) write(doc store.Document) uint64 {
	s.cas++
	s.docs[doc.ID] = store.Document{
		ID:        doc.ID,
		Content:   bytes.Clone(doc.Content),
		CAS:       s.cas,
		ExpiresAt: doc.ExpiresAt,
	}
	return s.cas
}

// live looks up id, treating an expired resident as absent. Callers hold mu.
func (s *Store) live(id string) (store.Document, bool) {
	cur, ok := s.docs[id]
	if !ok || cur.Expired(time.Now()) {
		return store.Document{}, false
	}
	return cur, true
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	t := time.NewTicker(s.sweep)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.reap(time.Now())
		}
	}
}

func (s *Store) reap(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		if doc.Expired(now) {
			delete(s.docs, id)
		}
	}
}
