package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Snapshot source as prometheus metrics. Values are
// computed on scrape.
type Collector struct {
	snapshot func() Snapshot

	active    *prometheus.Desc
	processed *prometheus.Desc
	rejected  *prometheus.Desc
	failures  *prometheus.Desc
	evictions *prometheus.Desc
	frameErrs *prometheus.Desc
	capacity  *prometheus.Desc
	unauth    *prometheus.Desc
	noHandler *prometheus.Desc
}

// NewCollector returns a collector reading counters from snapshot
func NewCollector(namespace string, snapshot func() Snapshot) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		snapshot:  snapshot,
		active:    desc("active_sessions", "Number of live sessions."),
		processed: desc("frames_processed_total", "Frames handed to a handler."),
		rejected:  desc("frames_rejected_total", "Frames rejected because the dispatch queue was full or the gateway was draining."),
		failures:  desc("handler_failures_total", "Handler panics and errors."),
		evictions: desc("heartbeat_evictions_total", "Sessions closed for inactivity."),
		frameErrs: desc("frame_errors_total", "Connections closed for malformed or oversized frames."),
		capacity:  desc("capacity_rejected_total", "Connections rejected by the session ceiling."),
		unauth:    desc("unauthorized_total", "Frames rejected because the session was not authenticated."),
		noHandler: desc("no_handler_total", "Frames without a registered handler."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.processed
	ch <- c.rejected
	ch <- c.failures
	ch <- c.evictions
	ch <- c.frameErrs
	ch <- c.capacity
	ch <- c.unauth
	ch <- c.noHandler
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveSessions))
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.processed, s.FramesProcessed)
	counter(c.rejected, s.FramesRejected)
	counter(c.failures, s.HandlerFailures)
	counter(c.evictions, s.HeartbeatEvictions)
	counter(c.frameErrs, s.FrameErrors)
	counter(c.capacity, s.CapacityRejected)
	counter(c.unauth, s.Unauthorized)
	counter(c.noHandler, s.NoHandler)
}
