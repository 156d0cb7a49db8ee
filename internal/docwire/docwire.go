// Package docwire frames documents for byte caches. A frame carries the
// document's cas, expiry and content; the id travels outside the frame as
// the cache key.
package docwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/unkn0wn-root/doccache/store"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("docwire: corrupt frame")
	magic4     = [...]byte{'D', 'O', 'C', 'W'}
)

// magic(4) | ver(1) | cas(u64 be) | expiry millis(u64 be, 0=none) | clen(u32 be) | content(clen)
const hdr = 4 + 1 + 8 + 8 + 4

func Encode(doc store.Document) []byte {
	buf := make([]byte, hdr+len(doc.Content))
	copy(buf, magic4[:])
	buf[4] = version
	binary.BigEndian.PutUint64(buf[5:13], doc.CAS)
	var millis uint64
	if !doc.ExpiresAt.IsZero() {
		millis = uint64(doc.ExpiresAt.UnixMilli())
	}
	binary.BigEndian.PutUint64(buf[13:21], millis)
	binary.BigEndian.PutUint32(buf[21:25], uint32(len(doc.Content)))
	copy(buf[hdr:], doc.Content)
	return buf
}

// Decode reverses Encode. Frames are self-contained, so a length that does
// not line up exactly (truncated content, trailing bytes) is ErrCorrupt,
// as are foreign magic and unknown versions.
func Decode(id string, b []byte) (store.Document, error) {
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return store.Document{}, ErrCorrupt
	}
	clen := int(binary.BigEndian.Uint32(b[21:25]))
	if clen < 0 || len(b)-hdr != clen {
		return store.Document{}, ErrCorrupt
	}
	doc := store.Document{
		ID:      id,
		Content: b[hdr:],
		CAS:     binary.BigEndian.Uint64(b[5:13]),
	}
	if millis := binary.BigEndian.Uint64(b[13:21]); millis > 0 {
		doc.ExpiresAt = time.UnixMilli(int64(millis))
	}
	return doc, nil
}
