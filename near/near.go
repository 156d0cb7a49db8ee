// Package near defines the process-local byte cache contract used by the
// tiered store's read tier.
package near

import "time"

// Cache is a small, lossy byte cache. Implementations may evict entries at
// any time and a miss is never an error. Values must come back byte-for-byte
// as stored.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Del(key string)
}
