package doccache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/doccache/store"
)

// StoreFactory provisions a store handle for a named cache. Stores created
// through a factory are owned by the Manager and closed when the cache is.
type StoreFactory func(ctx context.Context, cacheName string) (store.Store, error)

// managedCache is the type-erased view the Manager keeps of every cache it
// tracks, enough for lifecycle work without knowing K and V.
type managedCache interface {
	Name() string
	Close(ctx context.Context) error
	Clear(ctx context.Context) error
}

type managed struct {
	cache any
	lc    managedCache
	store store.Store
	owned bool
}

// Manager tracks named caches so independent parts of a process share one
// instance per name. Caches close through the Manager or on their own; both
// paths release the registry entry and any factory-owned store.
type Manager struct {
	caches  *xsync.MapOf[string, *managed]
	factory StoreFactory
	log     Logger
	closed  atomic.Bool
}

type ManagerOptions struct {
	// Factory provisions stores for caches opened without an explicit one.
	Factory StoreFactory
	Logger  Logger
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		caches:  xsync.NewMapOf[string, *managed](),
		factory: opts.Factory,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
	}
}

// OpenCache creates a cache under m. The name must be free; opening an
// already-registered name reports ErrCacheExists regardless of its types.
// When opts.Store is nil the manager's factory provisions one and the
// manager owns its lifetime.
func OpenCache[K comparable, V any](ctx context.Context, m *Manager, opts Options[K, V]) (Cache[K, V], error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("doccache: name is required")
	}
	if _, ok := m.caches.Load(opts.Name); ok {
		return nil, fmt.Errorf("doccache: cache %q: %w", opts.Name, ErrCacheExists)
	}

	owned := false
	if opts.Store == nil {
		if m.factory == nil {
			return nil, fmt.Errorf("doccache: cache %q: no store and no factory", opts.Name)
		}
		st, err := m.factory(ctx, opts.Name)
		if err != nil {
			return nil, fmt.Errorf("doccache: provision store for %q: %w", opts.Name, err)
		}
		opts.Store = st
		owned = true
	}
	if opts.Logger == nil {
		opts.Logger = m.log
	}

	c, err := newCache(opts)
	if err != nil {
		if owned {
			m.closeStore(ctx, opts.Store, opts.Name)
		}
		return nil, err
	}

	entry := &managed{cache: Cache[K, V](c), lc: c, store: opts.Store, owned: owned}
	if _, raced := m.caches.LoadOrStore(opts.Name, entry); raced {
		_ = c.Close(ctx)
		if owned {
			m.closeStore(ctx, opts.Store, opts.Name)
		}
		return nil, fmt.Errorf("doccache: cache %q: %w", opts.Name, ErrCacheExists)
	}
	c.onClose = func(ctx context.Context) { m.release(ctx, c.name) }
	return c, nil
}

// LookupCache returns the cache registered under name. The second result is
// false when no such cache exists or it was opened with different key or
// value types.
func LookupCache[K comparable, V any](m *Manager, name string) (Cache[K, V], bool) {
	entry, ok := m.caches.Load(name)
	if !ok {
		return nil, false
	}
	c, ok := entry.cache.(Cache[K, V])
	return c, ok
}

// CacheNames lists the currently registered caches in lexical order.
func (m *Manager) CacheNames() []string {
	names := make([]string, 0, m.caches.Size())
	m.caches.Range(func(name string, _ *managed) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Destroy empties the named cache and closes it, releasing its registry
// entry and any manager-owned store. Unknown names are a no-op.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	entry, ok := m.caches.Load(name)
	if !ok {
		return nil
	}
	if err := entry.lc.Clear(ctx); err != nil {
		return err
	}
	return entry.lc.Close(ctx)
}

// Close shuts down every registered cache. The manager accepts no new
// caches afterwards.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	m.caches.Range(func(_ string, entry *managed) bool {
		if err := entry.lc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// release drops a cache from the registry once it closed, tearing down the
// store when the manager provisioned it.
func (m *Manager) release(ctx context.Context, name string) {
	entry, ok := m.caches.LoadAndDelete(name)
	if !ok {
		return
	}
	if entry.owned {
		m.closeStore(ctx, entry.store, name)
	}
}

func (m *Manager) closeStore(ctx context.Context, st store.Store, name string) {
	if err := st.Close(ctx); err != nil {
		m.log.Warn("store close failed", Fields{"cache": name, "err": err})
	}
}
