// Package redis implements a document store on Redis.
//
// Each document lives in a hash (`c` content, `s` cas token, `e` expiry in
// unix milliseconds) with a matching PEXPIREAT, so Redis itself evicts
// expired documents and reads simply miss. CAS tokens come from one shared
// INCR counter; guarded writes run as Lua scripts so the compare and the
// write are atomic on the server. Index membership is a Redis set per index,
// with provisioned index names recorded in a registry set.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/doccache"
	"github.com/unkn0wn-root/doccache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const defaultScanCount = 256

// insertScript creates a document unless the id is resident.
// Returns the new cas, or -1 when the document exists.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -1
end
local cas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'c', ARGV[1], 's', cas, 'e', ARGV[2])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], ARGV[2])
else
  redis.call('PERSIST', KEYS[1])
end
redis.call('SADD', KEYS[3], ARGV[3])
return cas
`)

// upsertScript writes a document, optionally guarded by the cas the caller
// observed (ARGV[4]; 0 = unguarded).
// Returns the new cas, -1 on cas mismatch, -2 when guarded and absent.
var upsertScript = goredis.NewScript(`
local want = tonumber(ARGV[4])
if want ~= 0 then
  local cur = redis.call('HGET', KEYS[1], 's')
  if not cur then
    return -2
  end
  if tonumber(cur) ~= want then
    return -1
  end
end
local cas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'c', ARGV[1], 's', cas, 'e', ARGV[2])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], ARGV[2])
else
  redis.call('PERSIST', KEYS[1])
end
redis.call('SADD', KEYS[3], ARGV[3])
return cas
`)

// removeScript deletes a document, optionally guarded by cas (ARGV[1]).
// Returns 1 on success, -1 on cas mismatch, -2 when absent.
var removeScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 's')
if not cur then
  return -2
end
local want = tonumber(ARGV[1])
if want ~= 0 and tonumber(cur) ~= want then
  return -1
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// touchScript rewrites the expiry of a resident document under a fresh cas.
// Returns 1 on success, -2 when absent.
var touchScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local cas = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 's', cas, 'e', ARGV[1])
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIREAT', KEYS[1], ARGV[1])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

type Store struct {
	rdb         goredis.UniversalClient
	index       string
	prefix      string
	scanCount   int64
	closeClient bool
	log         doccache.Logger
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Index is the key index this handle records writes under. Required.
	Index string
	// KeyPrefix namespaces every Redis key this store touches.
	// Defaults to "doccache:".
	KeyPrefix string
	// CloseClient releases the client on Close. Set true only if this store
	// exclusively owns it.
	CloseClient bool
	// ScanCount is the SSCAN batch size hint for Enumerate. Default 256.
	ScanCount int64
	Logger    doccache.Logger
}

// New provisions the store's key index and returns the handle. The ctx
// covers the provisioning round-trip only.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Index == "" {
		return nil, errors.New("redis store: index name is required")
	}
	s := &Store{
		rdb:         cfg.Client,
		index:       cfg.Index,
		prefix:      cfg.KeyPrefix,
		scanCount:   cfg.ScanCount,
		closeClient: cfg.CloseClient,
		log:         cfg.Logger,
	}
	if s.prefix == "" {
		s.prefix = "doccache:"
	}
	if s.scanCount <= 0 {
		s.scanCount = defaultScanCount
	}
	if s.log == nil {
		s.log = doccache.NopLogger{}
	}
	if err := s.rdb.SAdd(ctx, s.registryKey(), cfg.Index).Err(); err != nil {
		return nil, fmt.Errorf("redis store: provision index %q: %w", cfg.Index, err)
	}
	return s, nil
}

func (s *Store) docKey(id string) string      { return s.prefix + "doc:" + id }
func (s *Store) indexKey(index string) string { return s.prefix + "idx:" + index }
func (s *Store) casKey() string               { return s.prefix + "cas" }
func (s *Store) registryKey() string          { return s.prefix + "indexes" }

func (s *Store) Get(ctx context.Context, id string) (store.Document, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.docKey(id), "c", "s", "e").Result()
	if err != nil {
		return store.Document{}, false, err
	}
	if vals[0] == nil || vals[1] == nil {
		return store.Document{}, false, nil
	}
	cas, err := parseUint(vals[1])
	if err != nil {
		return store.Document{}, false, fmt.Errorf("redis store: cas of %q: %w", id, err)
	}
	doc := store.Document{ID: id, Content: toBytes(vals[0]), CAS: cas}
	if vals[2] != nil {
		millis, err := parseInt(vals[2])
		if err != nil {
			return store.Document{}, false, fmt.Errorf("redis store: expiry of %q: %w", id, err)
		}
		if millis > 0 {
			doc.ExpiresAt = time.UnixMilli(millis)
		}
	}
	return doc, true, nil
}

func (s *Store) Insert(ctx context.Context, doc store.Document) (uint64, error) {
	res, err := insertScript.Run(ctx, s.rdb,
		[]string{s.docKey(doc.ID), s.casKey(), s.indexKey(s.index)},
		doc.Content, expiryMillis(doc.ExpiresAt), doc.ID,
	).Int64()
	if err != nil {
		return 0, err
	}
	if res == -1 {
		return 0, store.ErrExists
	}
	return uint64(res), nil
}

func (s *Store) Upsert(ctx context.Context, doc store.Document) (uint64, error) {
	res, err := upsertScript.Run(ctx, s.rdb,
		[]string{s.docKey(doc.ID), s.casKey(), s.indexKey(s.index)},
		doc.Content, expiryMillis(doc.ExpiresAt), doc.ID, doc.CAS,
	).Int64()
	if err != nil {
		return 0, err
	}
	switch res {
	case -1:
		return 0, store.ErrCASMismatch
	case -2:
		return 0, store.ErrNotFound
	}
	return uint64(res), nil
}

func (s *Store) Remove(ctx context.Context, doc store.Document) error {
	res, err := removeScript.Run(ctx, s.rdb,
		[]string{s.docKey(doc.ID), s.indexKey(s.index)},
		doc.CAS, doc.ID,
	).Int64()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return store.ErrCASMismatch
	case -2:
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := touchScript.Run(ctx, s.rdb,
		[]string{s.docKey(id), s.casKey()},
		expiryMillis(expiresAt),
	).Int64()
	if err != nil {
		return err
	}
	if res == -2 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Enumerate streams the index set with SSCAN. Ids whose documents Redis
// already evicted are scrubbed from the set instead of emitted, so the
// index does not accumulate tombstones for expired documents.
func (s *Store) Enumerate(ctx context.Context, index string) (store.IDStream, error) {
	ok, err := s.rdb.SIsMember(ctx, s.registryKey(), index).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrIndexNotFound
	}
	setKey := s.indexKey(index)

	return func(ctx context.Context, emit func(id string) error) error {
		var cursor uint64
		for {
			ids, next, err := s.rdb.SScan(ctx, setKey, cursor, "", s.scanCount).Result()
			if err != nil {
				return err
			}
			for _, id := range ids {
				n, err := s.rdb.Exists(ctx, s.docKey(id)).Result()
				if err != nil {
					return err
				}
				if n == 0 {
					if err := s.rdb.SRem(ctx, setKey, id).Err(); err != nil {
						s.log.Warn("index scrub failed", doccache.Fields{"index": index, "id": id, "err": err})
					}
					continue
				}
				if err := emit(id); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	}, nil
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func expiryMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseUint(v any) (uint64, error) {
	switch vv := v.(type) {
	case string:
		return strconv.ParseUint(vv, 10, 64)
	case []byte:
		return strconv.ParseUint(string(vv), 10, 64)
	default:
		return strconv.ParseUint(fmt.Sprint(vv), 10, 64)
	}
}

func parseInt(v any) (int64, error) {
	switch vv := v.(type) {
	case string:
		return strconv.ParseInt(vv, 10, 64)
	case []byte:
		return strconv.ParseInt(string(vv), 10, 64)
	default:
		return strconv.ParseInt(fmt.Sprint(vv), 10, 64)
	}
}

func toBytes(v any) []byte {
	switch vv := v.(type) {
	case []byte:
		return vv
	case string:
		return []byte(vv)
	default:
		return []byte(fmt.Sprint(vv))
	}
}
