package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"
)

// SimConfig controls the deterministic exchange simulator.
type SimConfig struct {
	Seed                int64
	RejectRate          float64
	ReorderWindow       int
	PartialFillPermille int64
}

// Validate ensures the config is within supported ranges.
func (c SimConfig) Validate() error {
	if c.RejectRate < 0 || c.RejectRate > 1 {
		return fmt.Errorf("rejectRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return fmt.Errorf("reorderWindow must be >= 0")
	}
	if c.PartialFillPermille < 0 || c.PartialFillPermille > 1000 {
		return fmt.Errorf("partialFillPermille must be between 0 and 1000")
	}
	return nil
}

type simOrder struct {
	intent    schema.Intent
	id        string
	open      bool
	filled    schema.Quantity
	cancelled bool
	rejected  bool
}

// Sim is a seeded in-process exchange used for paper trading and tests. It
// acknowledges intents, fills resting orders against market snapshots, and
// can reorder acknowledgment delivery within a window to exercise the OMS
// stale-ack handling.
type Sim struct {
	cfg  SimConfig
	sink Sink

	mu      sync.Mutex
	rng     *rand.Rand
	orders  map[uint64]*simOrder
	pending []func()
	nextID  uint64
}

// NewSim creates a simulator. The sink must be set before Submit.
func NewSim(cfg SimConfig) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	if cfg.PartialFillPermille == 0 {
		cfg.PartialFillPermille = 1000
	}
	return &Sim{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		orders: make(map[uint64]*simOrder),
	}, nil
}

// SetSink wires the acknowledgment consumer.
func (s *Sim) SetSink(sink Sink) {
	s.sink = sink
}

// Submit queues acknowledgment delivery for an intent.
func (s *Sim) Submit(_ context.Context, intent schema.Intent) error {
	if intent.ClientID == 0 || intent.ActionSeq == 0 {
		return exception.ErrOrderInvalidIntent
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch intent.Action {
	case schema.IntentPlace:
		if _, ok := s.orders[intent.ClientID]; ok {
			return exception.ErrOrderDuplicate
		}
		o := &simOrder{intent: intent}
		s.orders[intent.ClientID] = o
		if s.rng.Float64() < s.cfg.RejectRate {
			o.rejected = true
			s.enqueue(func() { s.sink.OnReject(intent.ClientID, intent.ActionSeq, "sim reject") })
			return nil
		}
		s.nextID++
		o.id = fmt.Sprintf("SIM-%d", s.nextID)
		o.open = true
		s.enqueue(func() { s.sink.OnAck(intent.ClientID, intent.ActionSeq, o.id) })

	case schema.IntentAmend:
		o, ok := s.orders[intent.ClientID]
		if !ok || !o.open {
			s.enqueue(func() { s.sink.OnAmendReject(intent.ClientID, intent.ActionSeq, "unknown order") })
			return nil
		}
		o.intent.Price = intent.Price
		o.intent.Qty = intent.Qty
		s.enqueue(func() { s.sink.OnAmendAck(intent.ClientID, intent.ActionSeq, intent.Price, intent.Qty) })

	case schema.IntentCancel:
		o, ok := s.orders[intent.ClientID]
		if !ok || !o.open {
			s.enqueue(func() { s.sink.OnCancelReject(intent.ClientID, intent.ActionSeq, "unknown order") })
			return nil
		}
		o.open = false
		o.cancelled = true
		s.enqueue(func() { s.sink.OnCancelAck(intent.ClientID, intent.ActionSeq) })

	default:
		return exception.ErrOrderInvalidIntent
	}
	return nil
}

// Query returns the authoritative order status, for OMS reconciliation.
func (s *Sim) Query(_ context.Context, clientID uint64) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientID]
	if !ok {
		return OrderStatus{}, nil
	}
	status := OrderStatus{
		Known:      true,
		ExchangeID: o.id,
		Price:      o.intent.Price,
		Qty:        o.intent.Qty,
		FilledQty:  o.filled,
	}
	switch {
	case o.rejected:
		status.Kind = schema.OrderUpdateRejected
	case o.cancelled:
		status.Kind = schema.OrderUpdateCancelled
	case o.filled >= o.intent.Qty:
		status.Kind = schema.OrderUpdateFilled
	case o.filled > 0:
		status.Kind = schema.OrderUpdatePartiallyFilled
	default:
		status.Kind = schema.OrderUpdateAcked
	}
	return status, nil
}

// OnSnapshot fills resting orders crossed by the snapshot: a resting bid
// fills when the market ask trades at or below it, a resting ask when the
// market bid trades at or above it. Fill size is PartialFillPermille of the
// remaining quantity, always at least one unit.
func (s *Sim) OnSnapshot(snap schema.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for clientID, o := range s.orders {
		if !o.open || o.intent.SymbolID != snap.SymbolID {
			continue
		}
		crossed := (o.intent.Side == schema.OrderSideBuy && snap.AskPrice > 0 && snap.AskPrice <= o.intent.Price) ||
			(o.intent.Side == schema.OrderSideSell && snap.BidPrice > 0 && snap.BidPrice >= o.intent.Price)
		if !crossed {
			continue
		}
		remaining := o.intent.Qty - o.filled
		fill := schema.Quantity(int64(remaining) * s.cfg.PartialFillPermille / 1000)
		if fill <= 0 {
			fill = 1
		}
		if fill > remaining {
			fill = remaining
		}
		o.filled += fill
		if o.filled >= o.intent.Qty {
			o.open = false
		}
		id := clientID
		price := o.intent.Price
		s.enqueue(func() { s.sink.OnFill(id, price, fill) })
	}
}

// enqueue buffers a delivery. With no reorder window deliveries flush in
// order; otherwise they accumulate until the window is full and flush in a
// random order, mimicking out-of-order network delivery.
func (s *Sim) enqueue(deliver func()) {
	if s.cfg.ReorderWindow <= 1 {
		s.pending = append(s.pending, deliver)
		return
	}
	s.pending = append(s.pending, deliver)
	if len(s.pending) >= s.cfg.ReorderWindow {
		s.rng.Shuffle(len(s.pending), func(i, j int) {
			s.pending[i], s.pending[j] = s.pending[j], s.pending[i]
		})
	}
}

// Flush delivers all queued acknowledgments to the sink. Called outside the
// simulator lock so the sink may call back into Submit.
func (s *Sim) Flush() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, deliver := range batch {
		deliver()
	}
	return len(batch)
}

// Run flushes deliveries on the given interval until the context is done.
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}
