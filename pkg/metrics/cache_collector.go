package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/intentd/pkg/models"
)

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats() models.CacheStats
}

// CacheCollector exports a cache's Stats snapshot at scrape time.
type CacheCollector struct {
	src         CacheStatter
	entries     *prometheus.Desc
	bytes       *prometheus.Desc
	maxSize     *prometheus.Desc
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
}

// NewCacheCollector creates a collector reading from src.
func NewCacheCollector(src CacheStatter) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &CacheCollector{
		src:         src,
		entries:     desc("entries", "Entries currently cached."),
		bytes:       desc("bytes", "Approximate JSON size of cached values."),
		maxSize:     desc("max_entries", "Configured entry bound."),
		hits:        desc("hits_total", "Cache hits."),
		misses:      desc("misses_total", "Cache misses, expired lookups included."),
		evictions:   desc("evictions_total", "Entries evicted to stay within the bound."),
		expirations: desc("expirations_total", "Entries removed after their TTL."),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.bytes
	ch <- c.maxSize
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expirations
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.CurrentSize))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.ApproxBytes))
	ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(s.Expirations))
}
