package doccache

import (
	"sync/atomic"
	"time"
)

// StatsRecorder observes cache activity. Implementations must be cheap and
// safe for concurrent use; the cache calls them on hot paths.
type StatsRecorder interface {
	IncHits()
	IncMisses()
	IncPuts()
	IncRemovals()
	IncExpiries()
	ObserveGet(d time.Duration)
	ObservePut(d time.Duration)
	ObserveRemove(d time.Duration)
}

// NopStats is the default recorder; it drops everything.
type NopStats struct{}

func (NopStats) IncHits()     {}
func (NopStats) IncMisses()   {}
func (NopStats) IncPuts()     {}
func (NopStats) IncRemovals() {}
func (NopStats) IncExpiries() {}

func (NopStats) ObserveGet(time.Duration)    {}
func (NopStats) ObservePut(time.Duration)    {}
func (NopStats) ObserveRemove(time.Duration) {}

// Stats is a point-in-time snapshot of a Counters recorder. Durations are
// cumulative.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Puts       uint64
	Removals   uint64
	Expiries   uint64
	GetTime    time.Duration
	PutTime    time.Duration
	RemoveTime time.Duration
}

// HitRatio is hits over lookups, 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Counters is an in-process StatsRecorder on atomics. The zero value is
// ready to use; share one per cache and read it with Snapshot.
type Counters struct {
	hits     atomic.Uint64
	misses   atomic.Uint64
	puts     atomic.Uint64
	removals atomic.Uint64
	expiries atomic.Uint64
	getNS    atomic.Int64
	putNS    atomic.Int64
	removeNS atomic.Int64
}

var _ StatsRecorder = (*Counters)(nil)

func (c *Counters) IncHits()     { c.hits.Add(1) }
func (c *Counters) IncMisses()   { c.misses.Add(1) }
func (c *Counters) IncPuts()     { c.puts.Add(1) }
func (c *Counters) IncRemovals() { c.removals.Add(1) }
func (c *Counters) IncExpiries() { c.expiries.Add(1) }

func (c *Counters) ObserveGet(d time.Duration)    { c.getNS.Add(int64(d)) }
func (c *Counters) ObservePut(d time.Duration)    { c.putNS.Add(int64(d)) }
func (c *Counters) ObserveRemove(d time.Duration) { c.removeNS.Add(int64(d)) }

func (c *Counters) Snapshot() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Puts:       c.puts.Load(),
		Removals:   c.removals.Load(),
		Expiries:   c.expiries.Load(),
		GetTime:    time.Duration(c.getNS.Load()),
		PutTime:    time.Duration(c.putNS.Load()),
		RemoveTime: time.Duration(c.removeNS.Load()),
	}
}
