// Package metrics holds the prometheus collectors of the data manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "novadm"

type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheLoads     prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheFull      prometheus.Counter

	PageFlushes prometheus.Counter

	LogAppends      prometheus.Counter
	LogBytes        prometheus.Counter
	LogTailRepaired prometheus.Counter

	TxnBegun     prometheus.Counter
	TxnCommitted prometheus.Counter
	TxnAborted   prometheus.Counter
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them on reg. With a nil reg the
// collectors still count but are not exported.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits:      counter("cache", "hits_total", "Get calls served from a cached entry."),
		CacheMisses:    counter("cache", "misses_total", "Get calls that found no cached entry."),
		CacheLoads:     counter("cache", "loads_total", "Loader invocations."),
		CacheEvictions: counter("cache", "evictions_total", "Entries evicted after their last release or at close."),
		CacheFull:      counter("cache", "full_total", "Get calls rejected because every slot was taken."),

		PageFlushes: counter("page", "flushes_total", "Pages written to the data file."),

		LogAppends:      counter("log", "appends_total", "Records appended to the log."),
		LogBytes:        counter("log", "bytes_total", "Serialized record bytes appended to the log."),
		LogTailRepaired: counter("log", "tail_repairs_total", "Bad tails truncated while opening the log."),

		TxnBegun:     counter("txn", "begun_total", "Transactions started."),
		TxnCommitted: counter("txn", "committed_total", "Transactions committed."),
		TxnAborted:   counter("txn", "aborted_total", "Transactions aborted."),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

// OrNew returns m, or a fresh unregistered set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.CacheLoads, m.CacheEvictions, m.CacheFull,
		m.PageFlushes,
		m.LogAppends, m.LogBytes, m.LogTailRepaired,
		m.TxnBegun, m.TxnCommitted, m.TxnAborted,
	}
}
