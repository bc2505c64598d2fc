package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxEventType    = int(schema.EventPosition)
	maxIntentAction = int(schema.IntentCancel)
)

// Metrics collects lightweight counters and latency stats for the quoting
// core. All methods are nil-safe so wiring metrics stays optional.
type Metrics struct {
	eventCounts  [maxEventType + 1]uint64
	intentCounts [maxIntentAction + 1]uint64
	staleAcks    uint64
	staleSnaps   uint64
	busDrops     uint64
	lostEvents   uint64
	inflightLate uint64
	riskDenies   uint64
	requotes     uint64

	tickToQuote    LatencyStats
	computeLatency LatencyStats
	applyLatency   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[schema.EventType]uint64
	IntentCounts    map[schema.IntentAction]uint64
	StaleAcks       uint64
	StaleSnapshots  uint64
	BusDrops        uint64
	LostEvents      uint64
	InflightTimeout uint64
	RiskDenies      uint64
	Requotes        uint64
	TickToQuote     LatencySnapshot
	ComputeLatency  LatencySnapshot
	ApplyLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments the per-type event counter and tracks event
// latency when both timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.tickToQuote.Observe(time.Duration(delta))
		}
	}
}

// IncIntent counts an issued order intent by action.
func (m *Metrics) IncIntent(action schema.IntentAction) {
	if m == nil {
		return
	}
	idx := int(action)
	if idx >= 0 && idx < len(m.intentCounts) {
		atomic.AddUint64(&m.intentCounts[idx], 1)
	}
}

// IncStaleAck records a discarded stale acknowledgment.
func (m *Metrics) IncStaleAck() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleAcks, 1)
}

// IncStaleSnapshot records a discarded out-of-sequence market snapshot.
func (m *Metrics) IncStaleSnapshot() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleSnaps, 1)
}

// AddBusDrops records evicted market data events. Evictions come in
// batches when a publisher outruns a stalled partition.
func (m *Metrics) AddBusDrops(n uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.busDrops, n)
}

// IncLostEvent records a failed order/position event publish. A non-zero
// value signals a bus sizing configuration error.
func (m *Metrics) IncLostEvent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.lostEvents, 1)
}

// IncInflightTimeout records an in-flight action that expired into the
// reconciliation path.
func (m *Metrics) IncInflightTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.inflightLate, 1)
}

// IncRiskDeny records a skipped requote due to the risk guard.
func (m *Metrics) IncRiskDeny() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.riskDenies, 1)
}

// IncRequote records a completed requote cycle.
func (m *Metrics) IncRequote() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.requotes, 1)
}

// ObserveCompute measures ladder computation latency.
func (m *Metrics) ObserveCompute(d time.Duration) {
	if m == nil {
		return
	}
	m.computeLatency.Observe(d)
}

// ObserveApply measures OMS intent application latency.
func (m *Metrics) ObserveApply(d time.Duration) {
	if m == nil {
		return
	}
	m.applyLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	intentCounts := make(map[schema.IntentAction]uint64)
	for i := range m.intentCounts {
		if v := atomic.LoadUint64(&m.intentCounts[i]); v > 0 {
			intentCounts[schema.IntentAction(i)] = v
		}
	}
	return Snapshot{
		EventCounts:     eventCounts,
		IntentCounts:    intentCounts,
		StaleAcks:       atomic.LoadUint64(&m.staleAcks),
		StaleSnapshots:  atomic.LoadUint64(&m.staleSnaps),
		BusDrops:        atomic.LoadUint64(&m.busDrops),
		LostEvents:      atomic.LoadUint64(&m.lostEvents),
		InflightTimeout: atomic.LoadUint64(&m.inflightLate),
		RiskDenies:      atomic.LoadUint64(&m.riskDenies),
		Requotes:        atomic.LoadUint64(&m.requotes),
		TickToQuote:     m.tickToQuote.Snapshot(),
		ComputeLatency:  m.computeLatency.Snapshot(),
		ApplyLatency:    m.applyLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
