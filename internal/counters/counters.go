// Package counters implements the tracker's process-wide monotone event
// counters (spec §4.7). Updates use relaxed atomic ordering: readers may
// observe stale but always-monotonic values, which is sufficient for a
// stats exporter that runs outside the core.
package counters

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds the tracker's event counters. The zero value is ready to
// use.
type Counters struct {
	connects         uint32
	announces        uint32
	scrapes          uint32
	errors           uint32
	droppedAnnounces uint32
	bytesIn          uint32
	bytesOut         uint32
}

// New allocates a new, zeroed Counters.
func New() *Counters { return &Counters{} }

// IncConnects records a completed connect exchange.
func (c *Counters) IncConnects() { atomic.AddUint32(&c.connects, 1) }

// IncAnnounces records a completed announce.
func (c *Counters) IncAnnounces() { atomic.AddUint32(&c.announces, 1) }

// IncScrapes records a completed scrape.
func (c *Counters) IncScrapes() { atomic.AddUint32(&c.scrapes, 1) }

// IncErrors records an invalid request that was dropped without a response.
func (c *Counters) IncErrors() { atomic.AddUint32(&c.errors, 1) }

// AddDroppedAnnounces records n announces dropped to backpressure.
func (c *Counters) AddDroppedAnnounces(n uint32) { atomic.AddUint32(&c.droppedAnnounces, n) }

// AddBytesIn records n bytes received from the transport.
func (c *Counters) AddBytesIn(n uint32) { atomic.AddUint32(&c.bytesIn, n) }

// AddBytesOut records n bytes handed to the transport for send.
func (c *Counters) AddBytesOut(n uint32) { atomic.AddUint32(&c.bytesOut, n) }

// Snapshot is a point-in-time, non-linearizable read of every counter.
type Snapshot struct {
	Connects         uint32
	Announces        uint32
	Scrapes          uint32
	Errors           uint32
	DroppedAnnounces uint32
	BytesIn          uint32
	BytesOut         uint32
}

// Snapshot reads every counter. The read is not atomic across fields.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Connects:         atomic.LoadUint32(&c.connects),
		Announces:        atomic.LoadUint32(&c.announces),
		Scrapes:          atomic.LoadUint32(&c.scrapes),
		Errors:           atomic.LoadUint32(&c.errors),
		DroppedAnnounces: atomic.LoadUint32(&c.droppedAnnounces),
		BytesIn:          atomic.LoadUint32(&c.bytesIn),
		BytesOut:         atomic.LoadUint32(&c.bytesOut),
	}
}

// Collector adapts Counters to prometheus.Collector, so a process embedding
// the tracker core can export these counters without the core itself
// depending on how they're scraped.
type Collector struct {
	c *Counters

	connectsDesc         *prometheus.Desc
	announcesDesc        *prometheus.Desc
	scrapesDesc          *prometheus.Desc
	errorsDesc           *prometheus.Desc
	droppedAnnouncesDesc *prometheus.Desc
	bytesInDesc          *prometheus.Desc
	bytesOutDesc         *prometheus.Desc
}

// NewCollector wraps c as a prometheus.Collector.
func NewCollector(c *Counters) *Collector {
	return &Collector{
		c:                    c,
		connectsDesc:         prometheus.NewDesc("utrackd_connects_total", "Total connect responses sent.", nil, nil),
		announcesDesc:        prometheus.NewDesc("utrackd_announces_total", "Total announce responses sent.", nil, nil),
		scrapesDesc:          prometheus.NewDesc("utrackd_scrapes_total", "Total scrape responses sent.", nil, nil),
		errorsDesc:           prometheus.NewDesc("utrackd_errors_total", "Total protocol errors.", nil, nil),
		droppedAnnouncesDesc: prometheus.NewDesc("utrackd_dropped_announces_total", "Total announces dropped due to backpressure.", nil, nil),
		bytesInDesc:          prometheus.NewDesc("utrackd_bytes_in_total", "Total bytes received.", nil, nil),
		bytesOutDesc:         prometheus.NewDesc("utrackd_bytes_out_total", "Total bytes sent.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.connectsDesc
	ch <- col.announcesDesc
	ch <- col.scrapesDesc
	ch <- col.errorsDesc
	ch <- col.droppedAnnouncesDesc
	ch <- col.bytesInDesc
	ch <- col.bytesOutDesc
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	s := col.c.Snapshot()
	ch <- prometheus.MustNewConstMetric(col.connectsDesc, prometheus.CounterValue, float64(s.Connects))
	ch <- prometheus.MustNewConstMetric(col.announcesDesc, prometheus.CounterValue, float64(s.Announces))
	ch <- prometheus.MustNewConstMetric(col.scrapesDesc, prometheus.CounterValue, float64(s.Scrapes))
	ch <- prometheus.MustNewConstMetric(col.errorsDesc, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(col.droppedAnnouncesDesc, prometheus.CounterValue, float64(s.DroppedAnnounces))
	ch <- prometheus.MustNewConstMetric(col.bytesInDesc, prometheus.CounterValue, float64(s.BytesIn))
	ch <- prometheus.MustNewConstMetric(col.bytesOutDesc, prometheus.CounterValue, float64(s.BytesOut))
}
