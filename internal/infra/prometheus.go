package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tradesim"

// metricsCollector exports the atomic counters on each scrape.
type metricsCollector struct {
	m *Metrics

	ticks, tickErrors, fallbacks, malformed, dropped *prometheus.Desc
	rejected, crossed, partial, reconnects           *prometheus.Desc
	sinkFailures, avgLatency                         *prometheus.Desc
	activeConnections, circuitOpen                   *prometheus.Desc
}

// NewCollector wraps m as a prometheus.Collector.
func NewCollector(m *Metrics) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
	}
	return &metricsCollector{
		m:                 m,
		ticks:             desc("ticks_processed_total", "Ticks processed by all pipelines."),
		tickErrors:        desc("tick_errors_total", "Ticks that produced an error result."),
		fallbacks:         desc("model_fallbacks_total", "Cost model evaluations replaced by fallback values."),
		malformed:         desc("malformed_messages_total", "Feed messages dropped during normalization."),
		dropped:           desc("dropped_ticks_total", "Snapshots dropped because a pipeline queue was full."),
		rejected:          desc("rejected_levels_total", "Price levels rejected by the order book."),
		crossed:           desc("crossed_books_total", "Updates that left the book crossed."),
		partial:           desc("partial_fills_total", "Book walks that exhausted the side."),
		reconnects:        desc("reconnects_total", "Feed reconnect attempts."),
		sinkFailures:      desc("sink_failures_total", "Result sink publish failures."),
		avgLatency:        desc("tick_latency_avg_seconds", "Average internal tick latency."),
		activeConnections: desc("active_connections", "Connected feed links."),
		circuitOpen:       desc("circuit_open", "Result sink circuit breakers currently open."),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ticks, c.tickErrors, c.fallbacks, c.malformed, c.dropped, c.rejected,
		c.crossed, c.partial, c.reconnects, c.sinkFailures,
		c.avgLatency, c.activeConnections, c.circuitOpen,
	} {
		ch <- d
	}
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter(c.ticks, s.TicksProcessed)
	counter(c.tickErrors, s.TickErrors)
	counter(c.fallbacks, s.ModelFallbacks)
	counter(c.malformed, s.MalformedMessages)
	counter(c.dropped, s.DroppedTicks)
	counter(c.rejected, s.RejectedLevels)
	counter(c.crossed, s.CrossedBooks)
	counter(c.partial, s.PartialFills)
	counter(c.reconnects, s.Reconnects)
	counter(c.sinkFailures, s.SinkFailures)
	gauge(c.avgLatency, float64(s.AvgLatencyNs)/1e9)
	gauge(c.activeConnections, float64(s.ActiveConnections))
	gauge(c.circuitOpen, float64(s.OpenCircuits))
}

// NewRegistry registers the metrics collector plus Go runtime and process collectors.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler serves reg in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
