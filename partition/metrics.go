package partition

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by Root and GenericRoot
type StatsSource interface {
	Name() string
	Statistics() MemoryStatistics
}

// Collector exports the totals of a set of roots as prometheus gauges, labeled by root name
type Collector struct {
	sources []StatsSource

	mmappedBytes       *prometheus.Desc
	committedBytes     *prometheus.Desc
	residentBytes      *prometheus.Desc
	activeBytes        *prometheus.Desc
	decommittableBytes *prometheus.Desc
	directMappedBytes  *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

func NewCollector(sources ...StatsSource) *Collector {
	labels := []string{"root"}
	return &Collector{
		sources: sources,

		mmappedBytes: prometheus.NewDesc("partalloc_mmapped_bytes",
			"Address space reserved by the root for super pages and direct mappings.", labels, nil),
		committedBytes: prometheus.NewDesc("partalloc_committed_bytes",
			"Bytes of the root's reservations that are backed by physical memory.", labels, nil),
		residentBytes: prometheus.NewDesc("partalloc_resident_bytes",
			"Bytes of provisioned slots and direct mappings.", labels, nil),
		activeBytes: prometheus.NewDesc("partalloc_active_bytes",
			"Bytes of slots and direct mappings currently allocated.", labels, nil),
		decommittableBytes: prometheus.NewDesc("partalloc_decommittable_bytes",
			"Bytes held by empty slot spans that a purge would release.", labels, nil),
		directMappedBytes: prometheus.NewDesc("partalloc_direct_mapped_bytes",
			"Bytes of live direct mappings.", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mmappedBytes
	ch <- c.committedBytes
	ch <- c.residentBytes
	ch <- c.activeBytes
	ch <- c.decommittableBytes
	ch <- c.directMappedBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, source := range c.sources {
		stats := source.Statistics()
		name := source.Name()

		ch <- prometheus.MustNewConstMetric(c.mmappedBytes, prometheus.GaugeValue, float64(stats.TotalMmappedBytes), name)
		ch <- prometheus.MustNewConstMetric(c.committedBytes, prometheus.GaugeValue, float64(stats.TotalCommittedBytes), name)
		ch <- prometheus.MustNewConstMetric(c.residentBytes, prometheus.GaugeValue, float64(stats.TotalResidentBytes), name)
		ch <- prometheus.MustNewConstMetric(c.activeBytes, prometheus.GaugeValue, float64(stats.TotalActiveBytes), name)
		ch <- prometheus.MustNewConstMetric(c.decommittableBytes, prometheus.GaugeValue, float64(stats.TotalDecommittableBytes), name)
		ch <- prometheus.MustNewConstMetric(c.directMappedBytes, prometheus.GaugeValue, float64(stats.TotalDirectMappedBytes), name)
	}
}
