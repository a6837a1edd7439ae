package cache

// metrics.go mirrors the teacher's pkg/metrics.go shape exactly: a small
// sink interface, a noop implementation used when the caller never opts
// in, and a Prometheus-backed implementation registered, when the Backend
// is built, against an optional *prometheus.Registry.
//
// © 2025 simplecache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	ObserveOpen(hit bool)
	ObserveCreate()
	ObserveDoom()
	ObserveEvictionSweep(evicted int, bytesReclaimed uint64)
	SetEntryCount(n int)
	SetSizeBytes(n uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOpen(bool)                      {}
func (noopMetrics) ObserveCreate()                        {}
func (noopMetrics) ObserveDoom()                          {}
func (noopMetrics) ObserveEvictionSweep(int, uint64)      {}
func (noopMetrics) SetEntryCount(int)                     {}
func (noopMetrics) SetSizeBytes(uint64)                   {}

type promMetrics struct {
	opens           *prometheus.CounterVec
	creates         prometheus.Counter
	dooms           prometheus.Counter
	evictionSweeps  prometheus.Counter
	entriesEvicted  prometheus.Counter
	bytesReclaimed  prometheus.Counter
	entryCount      prometheus.Gauge
	sizeBytes       prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplecache_opens_total",
			Help: "Entry open attempts, labeled by hit/miss.",
		}, []string{"result"}),
		creates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplecache_creates_total",
			Help: "Entry creations.",
		}),
		dooms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplecache_dooms_total",
			Help: "Entry doom operations.",
		}),
		evictionSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplecache_eviction_sweeps_total",
			Help: "Eviction sweeps triggered by exceeding the high watermark.",
		}),
		entriesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplecache_entries_evicted_total",
			Help: "Entries removed by eviction sweeps.",
		}),
		bytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplecache_bytes_reclaimed_total",
			Help: "Bytes reclaimed by eviction sweeps.",
		}),
		entryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simplecache_entry_count",
			Help: "Current number of entries in the index.",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simplecache_size_bytes",
			Help: "Current total size of cached data, in bytes.",
		}),
	}
	reg.MustRegister(m.opens, m.creates, m.dooms, m.evictionSweeps,
		m.entriesEvicted, m.bytesReclaimed, m.entryCount, m.sizeBytes)
	return m
}

func (m *promMetrics) ObserveOpen(hit bool) {
	if hit {
		m.opens.WithLabelValues("hit").Inc()
	} else {
		m.opens.WithLabelValues("miss").Inc()
	}
}

func (m *promMetrics) ObserveCreate() { m.creates.Inc() }
func (m *promMetrics) ObserveDoom()   { m.dooms.Inc() }

func (m *promMetrics) ObserveEvictionSweep(evicted int, bytesReclaimed uint64) {
	m.evictionSweeps.Inc()
	m.entriesEvicted.Add(float64(evicted))
	m.bytesReclaimed.Add(float64(bytesReclaimed))
}

func (m *promMetrics) SetEntryCount(n int)       { m.entryCount.Set(float64(n)) }
func (m *promMetrics) SetSizeBytes(n uint64)     { m.sizeBytes.Set(float64(n)) }

func newMetricsSink(cfg *config) metricsSink {
	if cfg.registry == nil {
		return noopMetrics{}
	}
	return newPromMetrics(cfg.registry)
}
