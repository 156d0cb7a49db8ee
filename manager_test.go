package doccache

import (
	"context"
	"errors"
	"sync"
	"testing"

	c "github.com/unkn0wn-root/doccache/codec"
	kc "github.com/unkn0wn-root/doccache/keycodec"
	"github.com/unkn0wn-root/doccache/store"
)

// trackingFactory provisions fakeStores and remembers them by cache name.
type trackingFactory struct {
	mu     sync.Mutex
	stores map[string]*fakeStore
	err    error
}

func newTrackingFactory() *trackingFactory {
	return &trackingFactory{stores: make(map[string]*fakeStore)}
}

func (f *trackingFactory) provision(_ context.Context, name string) (store.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := newFakeStore(name)
	f.stores[name] = st
	return st, nil
}

func (f *trackingFactory) store(name string) *fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[name]
}

func openUsers(t *testing.T, ctx context.Context, m *Manager, name string) Cache[string, user] {
	t.Helper()
	cc, err := OpenCache(ctx, m, Options[string, user]{
		Name:       name,
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	})
	if err != nil {
		t.Fatalf("OpenCache %q: %v", name, err)
	}
	return cc
}

func TestManagerOpenAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ManagerOptions{Factory: newTrackingFactory().provision})
	defer m.Close(ctx)

	opened := openUsers(t, ctx, m, "users")
	if err := opened.Put(ctx, "u1", user{ID: "1", Name: "Ada"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	found, ok := LookupCache[string, user](m, "users")
	if !ok {
		t.Fatal("LookupCache missed an open cache")
	}
	if found != opened {
		t.Fatal("LookupCache returned a different handle")
	}
	if got, ok, _ := found.Get(ctx, "u1"); !ok || got.Name != "Ada" {
		t.Fatalf("Get through lookup = %+v ok=%v", got, ok)
	}

	// same name, different type parameters
	if _, ok := LookupCache[int, user](m, "users"); ok {
		t.Fatal("LookupCache matched the wrong key type")
	}
	if _, ok := LookupCache[string, user](m, "missing"); ok {
		t.Fatal("LookupCache matched an unknown name")
	}
}

func TestManagerDuplicateName(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ManagerOptions{Factory: newTrackingFactory().provision})
	defer m.Close(ctx)

	openUsers(t, ctx, m, "users")

	_, err := OpenCache(ctx, m, Options[string, user]{
		Name:       "users",
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	})
	if !errors.Is(err, ErrCacheExists) {
		t.Fatalf("duplicate open: got %v, want ErrCacheExists", err)
	}

	// the name is taken regardless of type parameters
	_, err = OpenCache(ctx, m, Options[string, int]{
		Name:       "users",
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[int]{},
	})
	if !errors.Is(err, ErrCacheExists) {
		t.Fatalf("duplicate open, other types: got %v, want ErrCacheExists", err)
	}
}

func TestManagerFactoryOwnership(t *testing.T) {
	ctx := context.Background()
	f := newTrackingFactory()
	m := NewManager(ManagerOptions{Factory: f.provision})
	defer m.Close(ctx)

	// factory-provisioned stores close with their cache
	owned := openUsers(t, ctx, m, "owned")
	if err := owned.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := f.store("owned"); st == nil || !st.closed {
		t.Fatal("factory store not closed with its cache")
	}

	// closing released the name
	openUsers(t, ctx, m, "owned")

	// caller-provided stores stay open
	ext := newFakeStore("external")
	cc, err := OpenCache(ctx, m, Options[string, user]{
		Name:       "external",
		Store:      ext,
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	})
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if err := cc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ext.closed {
		t.Fatal("manager closed a caller-owned store")
	}
}

func TestManagerOpenFailures(t *testing.T) {
	ctx := context.Background()

	// no store and no factory
	bare := NewManager(ManagerOptions{})
	defer bare.Close(ctx)
	if _, err := OpenCache(ctx, bare, Options[string, user]{
		Name:       "users",
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	}); err == nil {
		t.Fatal("OpenCache without store or factory succeeded")
	}

	// factory failure surfaces
	f := newTrackingFactory()
	f.err = errors.New("provision failed")
	m := NewManager(ManagerOptions{Factory: f.provision})
	defer m.Close(ctx)
	if _, err := OpenCache(ctx, m, Options[string, user]{
		Name:       "users",
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	}); !errors.Is(err, f.err) {
		t.Fatalf("factory failure: got %v", err)
	}

	// invalid options tear the provisioned store back down
	f.err = nil
	if _, err := OpenCache(ctx, m, Options[string, user]{
		Name:     "bad",
		KeyCodec: kc.String{},
	}); err == nil {
		t.Fatal("OpenCache without value codec succeeded")
	}
	if st := f.store("bad"); st == nil || !st.closed {
		t.Fatal("provisioned store leaked after a failed open")
	}
	if names := m.CacheNames(); len(names) != 0 {
		t.Fatalf("CacheNames = %v, want empty", names)
	}
}

func TestManagerDestroy(t *testing.T) {
	ctx := context.Background()
	f := newTrackingFactory()
	m := NewManager(ManagerOptions{Factory: f.provision})
	defer m.Close(ctx)

	cc := openUsers(t, ctx, m, "users")
	if err := cc.Put(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "u2", user{ID: "2"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := m.Destroy(ctx, "users"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	st := f.store("users")
	if st.len() != 0 {
		t.Fatalf("%d documents survived Destroy", st.len())
	}
	if !st.closed {
		t.Fatal("Destroy left the owned store open")
	}
	if names := m.CacheNames(); len(names) != 0 {
		t.Fatalf("CacheNames = %v, want empty", names)
	}
	if _, _, err := cc.Get(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Destroy: got %v, want ErrClosed", err)
	}

	// unknown names are a no-op
	if err := m.Destroy(ctx, "missing"); err != nil {
		t.Fatalf("Destroy unknown: %v", err)
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	f := newTrackingFactory()
	m := NewManager(ManagerOptions{Factory: f.provision})

	a := openUsers(t, ctx, m, "a")
	b := openUsers(t, ctx, m, "b")

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, _, err := a.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("cache a after manager close: %v", err)
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("cache b after manager close: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if st := f.store(name); st == nil || !st.closed {
			t.Fatalf("store %q not closed with the manager", name)
		}
	}

	if _, err := OpenCache(ctx, m, Options[string, user]{
		Name:       "late",
		KeyCodec:   kc.String{},
		ValueCodec: c.JSON[user]{},
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("OpenCache after manager close: got %v, want ErrClosed", err)
	}
}

func TestManagerCacheNames(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ManagerOptions{Factory: newTrackingFactory().provision})
	defer m.Close(ctx)

	for _, name := range []string{"gamma", "alpha", "beta"} {
		openUsers(t, ctx, m, name)
	}
	names := m.CacheNames()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "beta" || names[2] != "gamma" {
		t.Fatalf("CacheNames = %v", names)
	}
}
