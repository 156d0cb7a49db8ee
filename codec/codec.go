// Package codec converts cache values to and from the byte content of a
// stored document.
//
// Operations that compare values (RemoveValue, ReplaceValue) compare the
// encoded bytes, so codecs whose output varies between identical inputs
// (map ordering, indeterminate float forms) make those operations
// unreliable. Prefer deterministic encodings for values used that way.
package codec

// Codec encodes/decodes values V to []byte document content.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
