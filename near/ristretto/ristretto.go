// Package ristretto adapts dgraph-io/ristretto to the near.Cache contract.
package ristretto

import (
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/doccache/near"
)

type Cache struct {
	c *rc.Cache
}

var _ near.Cache = (*Cache)(nil)

type Config struct {
	NumCounters int64 // default 100_000
	MaxCost     int64 // default 64 MiB; entry cost is its byte length
	BufferItems int64 // default 64
	Metrics     bool
}

func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (p *Cache) Get(key string) ([]byte, bool) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false
	}
	return b, true
}

func (p *Cache) Set(key string, val []byte, ttl time.Duration) {
	p.c.SetWithTTL(key, val, int64(len(val)), ttl)
}

func (p *Cache) Del(key string) {
	p.c.Del(key)
}

func (p *Cache) Close() error {
	p.c.Close()
	return nil
}
