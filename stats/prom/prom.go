// Package prom exports cache statistics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/doccache"
)

// Recorder forwards cache statistics to Prometheus collectors. Metrics are
// named <namespace>_doccache_* and carry the cache name as a const label, so
// one registry serves any number of caches.
type Recorder struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	puts     prometheus.Counter
	removals prometheus.Counter
	expiries prometheus.Counter

	getTime    prometheus.Histogram
	putTime    prometheus.Histogram
	removeTime prometheus.Histogram
}

var _ doccache.StatsRecorder = (*Recorder)(nil)

// New builds and registers the collectors for one cache. Registering the
// same (namespace, cache) pair twice fails with the registry's
// AlreadyRegisteredError.
func New(reg prometheus.Registerer, namespace, cacheName string) (*Recorder, error) {
	labels := prometheus.Labels{"cache": cacheName}
	makeC := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "doccache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	makeH := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "doccache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	r := &Recorder{
		hits:       makeC("hits_total", "Number of reads served with a value."),
		misses:     makeC("misses_total", "Number of reads that found nothing."),
		puts:       makeC("puts_total", "Number of successful writes."),
		removals:   makeC("removals_total", "Number of successful removals."),
		expiries:   makeC("expiries_total", "Number of documents reaped after expiring."),
		getTime:    makeH("get_seconds", "Latency of read operations."),
		putTime:    makeH("put_seconds", "Latency of write operations."),
		removeTime: makeH("remove_seconds", "Latency of removal operations."),
	}
	for _, c := range []prometheus.Collector{
		r.hits, r.misses, r.puts, r.removals, r.expiries,
		r.getTime, r.putTime, r.removeTime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) IncHits()     { r.hits.Inc() }
func (r *Recorder) IncMisses()   { r.misses.Inc() }
func (r *Recorder) IncPuts()     { r.puts.Inc() }
func (r *Recorder) IncRemovals() { r.removals.Inc() }
func (r *Recorder) IncExpiries() { r.expiries.Inc() }

func (r *Recorder) ObserveGet(d time.Duration)    { r.getTime.Observe(d.Seconds()) }
func (r *Recorder) ObservePut(d time.Duration)    { r.putTime.Observe(d.Seconds()) }
func (r *Recorder) ObserveRemove(d time.Duration) { r.removeTime.Observe(d.Seconds()) }
