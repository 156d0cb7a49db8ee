// Package doccache implements a cache facade over a remote document store.
// Domain keys and values map to store documents through pluggable codecs,
// mutations are observable through registered listeners, and the full
// contents stream through a pull-based iterator that bridges the store's
// push-style enumeration.
//
// Components:
//   - store.Store: document store with CAS arbitration and key index
//     enumeration (Redis, in-memory and tiered near-cache variants included).
//   - keycodec.Codec[K]: domain key <-> document id, with prefix isolation
//     for stores shared between caches.
//   - codec.Codec[V]: (de)serializes V <-> []byte (JSON, CBOR, Msgpack,
//     Protobuf, raw).
//   - Binding: listener registration with per-kind capability interfaces,
//     filters and optional asynchronous delivery.
//   - Iterator: bounded producer/consumer bridge with CAS-checked removal.
//   - Manager: named cache registry over a store factory.
//
// Writes are arbitrated by the store: every mutation of an existing document
// carries the CAS token observed when it was read, and the store rejects the
// write if the token moved. Expiry is lazy: an expired document observed by
// a read counts as a miss, is reaped best-effort and is reported to
// listeners as Expired. Clear is silent by contract; RemoveAll reports a
// Removed event per entry.
package doccache
