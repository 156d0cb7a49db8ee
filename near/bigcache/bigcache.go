// Package bigcache adapts allegro/bigcache to the near.Cache contract.
//
// BigCache has one LifeWindow per instance, not per-entry TTLs, so Set
// ignores the ttl argument. Size the LifeWindow at or below the staleness
// bound the tiered store is configured with.
package bigcache

import (
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/doccache/near"
)

type Cache struct {
	c *bc.BigCache
}

var _ near.Cache = (*Cache)(nil)

type Config struct {
	LifeWindow         time.Duration // default 5s
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Cache, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = 5 * time.Second
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (p *Cache) Get(key string) ([]byte, bool) {
	b, err := p.c.Get(key)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (p *Cache) Set(key string, val []byte, _ time.Duration) {
	_ = p.c.Set(key, val)
}

func (p *Cache) Del(key string) {
	_ = p.c.Delete(key)
}

func (p *Cache) Close() error {
	return p.c.Close()
}
