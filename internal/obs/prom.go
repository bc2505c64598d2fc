package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"main/internal/schema"
)

var eventTypeNames = map[schema.EventType]string{
	schema.EventMarketData: "market_data",
	schema.EventOrder:      "order",
	schema.EventPosition:   "position",
}

var intentActionNames = map[schema.IntentAction]string{
	schema.IntentPlace:  "place",
	schema.IntentAmend:  "amend",
	schema.IntentCancel: "cancel",
}

// Collector exposes a Metrics container through a prometheus registry. The
// atomic counters stay the hot-path source of truth; the collector snapshots
// them on scrape.
type Collector struct {
	metrics  *Metrics
	registry *prometheus.Registry

	events          *prometheus.Desc
	intents         *prometheus.Desc
	staleAcks       *prometheus.Desc
	staleSnapshots  *prometheus.Desc
	busDrops        *prometheus.Desc
	lostEvents      *prometheus.Desc
	inflightTimeout *prometheus.Desc
	riskDenies      *prometheus.Desc
	requotes        *prometheus.Desc
	tickToQuoteAvg  *prometheus.Desc
	computeAvg      *prometheus.Desc
	applyAvg        *prometheus.Desc
}

// NewCollector registers a collector over the given metrics.
func NewCollector(namespace string, metrics *Metrics) *Collector {
	c := &Collector{
		metrics:  metrics,
		registry: prometheus.NewRegistry(),

		events:          prometheus.NewDesc(namespace+"_events_total", "Events observed by type", []string{"type"}, nil),
		intents:         prometheus.NewDesc(namespace+"_intents_total", "Order intents issued by action", []string{"action"}, nil),
		staleAcks:       prometheus.NewDesc(namespace+"_stale_acks_total", "Discarded stale acknowledgments", nil, nil),
		staleSnapshots:  prometheus.NewDesc(namespace+"_stale_snapshots_total", "Discarded out-of-sequence market snapshots", nil, nil),
		busDrops:        prometheus.NewDesc(namespace+"_bus_drops_total", "Evicted market data events", nil, nil),
		lostEvents:      prometheus.NewDesc(namespace+"_lost_events_total", "Failed order/position event publishes", nil, nil),
		inflightTimeout: prometheus.NewDesc(namespace+"_inflight_timeouts_total", "In-flight actions expired into reconciliation", nil, nil),
		riskDenies:      prometheus.NewDesc(namespace+"_risk_denies_total", "Requotes skipped by the risk guard", nil, nil),
		requotes:        prometheus.NewDesc(namespace+"_requotes_total", "Completed requote cycles", nil, nil),
		tickToQuoteAvg:  prometheus.NewDesc(namespace+"_tick_to_quote_avg_nanoseconds", "Average tick-to-quote latency", nil, nil),
		computeAvg:      prometheus.NewDesc(namespace+"_ladder_compute_avg_nanoseconds", "Average ladder computation latency", nil, nil),
		applyAvg:        prometheus.NewDesc(namespace+"_oms_apply_avg_nanoseconds", "Average OMS intent application latency", nil, nil),
	}
	c.registry.MustRegister(c)
	c.registry.MustRegister(prometheus.NewGoCollector())
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.intents
	ch <- c.staleAcks
	ch <- c.staleSnapshots
	ch <- c.busDrops
	ch <- c.lostEvents
	ch <- c.inflightTimeout
	ch <- c.riskDenies
	ch <- c.requotes
	ch <- c.tickToQuoteAvg
	ch <- c.computeAvg
	ch <- c.applyAvg
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	for eventType, count := range snap.EventCounts {
		name, ok := eventTypeNames[eventType]
		if !ok {
			name = "unknown"
		}
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(count), name)
	}
	for action, count := range snap.IntentCounts {
		name, ok := intentActionNames[action]
		if !ok {
			name = "unknown"
		}
		ch <- prometheus.MustNewConstMetric(c.intents, prometheus.CounterValue, float64(count), name)
	}
	ch <- prometheus.MustNewConstMetric(c.staleAcks, prometheus.CounterValue, float64(snap.StaleAcks))
	ch <- prometheus.MustNewConstMetric(c.staleSnapshots, prometheus.CounterValue, float64(snap.StaleSnapshots))
	ch <- prometheus.MustNewConstMetric(c.busDrops, prometheus.CounterValue, float64(snap.BusDrops))
	ch <- prometheus.MustNewConstMetric(c.lostEvents, prometheus.CounterValue, float64(snap.LostEvents))
	ch <- prometheus.MustNewConstMetric(c.inflightTimeout, prometheus.CounterValue, float64(snap.InflightTimeout))
	ch <- prometheus.MustNewConstMetric(c.riskDenies, prometheus.CounterValue, float64(snap.RiskDenies))
	ch <- prometheus.MustNewConstMetric(c.requotes, prometheus.CounterValue, float64(snap.Requotes))
	ch <- prometheus.MustNewConstMetric(c.tickToQuoteAvg, prometheus.GaugeValue, float64(snap.TickToQuote.Avg))
	ch <- prometheus.MustNewConstMetric(c.computeAvg, prometheus.GaugeValue, float64(snap.ComputeLatency.Avg))
	ch <- prometheus.MustNewConstMetric(c.applyAvg, prometheus.GaugeValue, float64(snap.ApplyLatency.Avg))
}

// Handler returns the scrape handler for the collector registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
