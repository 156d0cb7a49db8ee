package docwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/unkn0wn-root/doccache/store"
)

func mustDecode(t *testing.T, id string, b []byte) store.Document {
	t.Helper()
	doc, err := Decode(id, b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return doc
}

func TestRoundTrip(t *testing.T) {
	cases := []store.Document{
		{ID: "a"},
		{ID: "b", Content: []byte("hello"), CAS: 42},
		{ID: "c", Content: []byte{0, 1, 2, 3}, CAS: math.MaxUint64, ExpiresAt: time.UnixMilli(1_700_000_000_000)},
	}
	for _, want := range cases {
		got := mustDecode(t, want.ID, Encode(want))
		if got.ID != want.ID || got.CAS != want.CAS {
			t.Fatalf("mismatch: got %+v want %+v", got, want)
		}
		if !bytes.Equal(got.Content, want.Content) {
			t.Fatalf("content mismatch: got %x want %x", got.Content, want.Content)
		}
		if !got.ExpiresAt.Equal(want.ExpiresAt) {
			t.Fatalf("expiry mismatch: got %v want %v", got.ExpiresAt, want.ExpiresAt)
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(store.Document{ID: "k", Content: []byte("x"), CAS: 7})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode("k", enc); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("trailing bytes: got %v, want ErrCorrupt", err)
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(store.Document{ID: "k", Content: []byte("abc"), CAS: 1})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode("k", badMagic); err == nil {
		t.Fatal("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode("k", badVer); err == nil {
		t.Fatal("expected error on bad version")
	}

	// clen announcing more than available
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[21:25], uint32(len("abc")+1))
	if _, err := Decode("k", tooLong); err == nil {
		t.Fatal("expected error on clen beyond buffer")
	}

	trunc := enc[:len(enc)-1]
	if _, err := Decode("k", trunc); err == nil {
		t.Fatal("expected error on truncated buffer")
	}

	if _, err := Decode("k", nil); err == nil {
		t.Fatal("expected error on empty buffer")
	}
}

func TestZeroCopyContent(t *testing.T) {
	enc := Encode(store.Document{ID: "k", Content: []byte("Z")})
	doc := mustDecode(t, "k", enc)
	if len(doc.Content) != 1 {
		t.Fatalf("unexpected content len")
	}
	// mutate decoded content. should mutate underlying enc bytes (zero-copy)
	doc.Content[0] = 'Q'
	doc2 := mustDecode(t, "k", enc)
	if doc2.Content[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
