package tiered

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/doccache/internal/docwire"
	"github.com/unkn0wn-root/doccache/store"
	"github.com/unkn0wn-root/doccache/store/memstore"
)

type fakeNear struct {
	mu     sync.Mutex
	m      map[string][]byte
	ttls   map[string]time.Duration
	closed bool
}

func newFakeNear() *fakeNear {
	return &fakeNear{m: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (f *fakeNear) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.m[key]
	return b, ok
}

func (f *fakeNear) Set(key string, val []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = val
	f.ttls[key] = ttl
}

func (f *fakeNear) Del(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	delete(f.ttls, key)
}

func (f *fakeNear) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNear) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.m[key]
	return ok
}

func newTiered(t *testing.T, nc *fakeNear, cfg Config) (*Store, *memstore.Store) {
	t.Helper()
	inner, err := memstore.New(memstore.Config{Index: "t"})
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	s, err := New(inner, nc, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, inner
}

func TestGetPopulatesNearTier(t *testing.T) {
	nc := newFakeNear()
	s, inner := newTiered(t, nc, Config{})
	ctx := context.Background()

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("v")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !nc.has("a") {
		t.Fatal("inner hit did not populate the near tier")
	}

	// drop the document behind the tier's back; the near entry must still serve
	if err := inner.Remove(ctx, store.Document{ID: "a"}); err != nil {
		t.Fatalf("inner Remove: %v", err)
	}
	doc2, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("near Get: ok=%v err=%v", ok, err)
	}
	if string(doc2.Content) != "v" || doc2.CAS != doc.CAS {
		t.Fatalf("near copy diverged: %+v vs %+v", doc2, doc)
	}
}

func TestWritesInvalidateNearTier(t *testing.T) {
	nc := newFakeNear()
	s, _ := newTiered(t, nc, Config{})
	ctx := context.Background()

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("1")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !nc.has("a") {
		t.Fatal("near tier not populated")
	}

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("2")}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if nc.has("a") {
		t.Fatal("Upsert left a stale near entry")
	}

	doc, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || string(doc.Content) != "2" {
		t.Fatalf("Get after rewrite: ok=%v err=%v content=%q", ok, err, doc.Content)
	}

	if err := s.Remove(ctx, store.Document{ID: "a"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if nc.has("a") {
		t.Fatal("Remove left a stale near entry")
	}
}

func TestCorruptNearEntrySelfHeals(t *testing.T) {
	nc := newFakeNear()
	s, _ := newTiered(t, nc, Config{})
	ctx := context.Background()

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("v")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	nc.Set("a", []byte("garbage, not a frame"), time.Minute)

	doc, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(doc.Content) != "v" {
		t.Fatalf("Content = %q", doc.Content)
	}
}

func TestExpiredNearEntryFallsThrough(t *testing.T) {
	nc := newFakeNear()
	s, inner := newTiered(t, nc, Config{})
	ctx := context.Background()

	// live in the inner store, expired in the near tier
	if _, err := inner.Upsert(ctx, store.Document{ID: "a", Content: []byte("live")}); err != nil {
		t.Fatalf("inner Upsert: %v", err)
	}
	stale := store.Document{ID: "a", Content: []byte("stale"), ExpiresAt: time.Now().Add(-time.Minute)}
	if _, _, err := s.Get(ctx, "a"); err != nil { // populate
		t.Fatalf("Get: %v", err)
	}
	nc.Set("a", docwire.Encode(stale), time.Minute)

	doc, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(doc.Content) != "live" {
		t.Fatalf("served the expired near entry: %q", doc.Content)
	}
}

func TestPopulateClipsTTLToDocumentExpiry(t *testing.T) {
	nc := newFakeNear()
	s, _ := newTiered(t, nc, Config{NearTTL: time.Hour})
	ctx := context.Background()

	doc := store.Document{ID: "a", Content: []byte("v"), ExpiresAt: time.Now().Add(time.Second)}
	if _, err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	nc.mu.Lock()
	ttl := nc.ttls["a"]
	nc.mu.Unlock()
	if ttl <= 0 || ttl > time.Second {
		t.Fatalf("near ttl = %v, want within (0, 1s]", ttl)
	}
}

func TestHasPrefersNearTier(t *testing.T) {
	nc := newFakeNear()
	s, inner := newTiered(t, nc, Config{})
	ctx := context.Background()

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("v")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := inner.Remove(ctx, store.Document{ID: "a"}); err != nil {
		t.Fatalf("inner Remove: %v", err)
	}
	if ok, _ := s.Has(ctx, "a"); !ok {
		t.Fatal("Has missed a near-resident document")
	}
}

func TestCloseHonorsNearOwnership(t *testing.T) {
	ctx := context.Background()

	owned := newFakeNear()
	s, _ := newTiered(t, owned, Config{CloseNear: true})
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !owned.closed {
		t.Fatal("owned near cache not closed")
	}

	shared := newFakeNear()
	s2, _ := newTiered(t, shared, Config{})
	if err := s2.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if shared.closed {
		t.Fatal("shared near cache closed without ownership")
	}
}

func TestEnumeratePassesThrough(t *testing.T) {
	nc := newFakeNear()
	s, _ := newTiered(t, nc, Config{})
	ctx := context.Background()

	if _, err := s.Upsert(ctx, store.Document{ID: "a", Content: []byte("1")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Enumerate(ctx, "missing"); err == nil {
		t.Fatal("unknown index should fail")
	}
	stream, err := s.Enumerate(ctx, "t")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	var ids []string
	if err := stream(ctx, func(id string) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("ids = %v", ids)
	}
}
