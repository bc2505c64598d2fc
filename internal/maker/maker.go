package maker

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"
)

// Config holds the per-symbol orchestration parameters on top of the quote
// engine config.
type Config struct {
	Quote                 quote.Config    `json:"quote"`
	RequotePriceThreshold schema.Price    `json:"requotePriceThreshold"`
	RequoteSizeThreshold  schema.Quantity `json:"requoteSizeThreshold"`
	MinRequoteInterval    time.Duration   `json:"minRequoteInterval"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if err := c.Quote.Validate(); err != nil {
		return err
	}
	if c.RequotePriceThreshold < 0 || c.RequoteSizeThreshold < 0 {
		return errors.New("requote thresholds must be >= 0")
	}
	if c.MinRequoteInterval < 0 {
		return errors.New("minRequoteInterval must be >= 0")
	}
	return nil
}

// RiskChecker gates every requote. *risk.Guard implements it; cmd wraps it
// for hot config reload.
type RiskChecker interface {
	Check(snap schema.MarketSnapshot, pos schema.Position) error
}

// orderManager is the slice of the OMS the maker drives.
type orderManager interface {
	Place(ctx context.Context, symbolID schema.SymbolID, side schema.OrderSide, price schema.Price, qty schema.Quantity) (uint64, error)
	Amend(ctx context.Context, clientID uint64, price schema.Price, qty schema.Quantity) error
	Cancel(ctx context.Context, clientID uint64) error
	Order(clientID uint64) (oms.View, bool)
}

type levelKey struct {
	side schema.OrderSide
	idx  int
}

// Maker quotes one symbol. All state below the dependencies is touched only
// from the symbol's bus partition goroutine, so it carries no lock.
type Maker struct {
	cfg     Config
	spec    schema.SymbolSpec
	orders  orderManager
	guard   RiskChecker
	metrics *obs.Metrics
	nowFn   func() time.Time

	ctx         context.Context
	snap        schema.MarketSnapshot
	haveSnap    bool
	pos         schema.Position
	lastSeq     uint64
	lastRequote int64

	bidLevels  map[int]uint64
	askLevels  map[int]uint64
	orderLevel map[uint64]levelKey
}

// New creates a maker for one symbol. Call Attach to subscribe it to the
// symbol's bus partition.
func New(cfg Config, spec schema.SymbolSpec, orders orderManager, guard RiskChecker, metrics *obs.Metrics) (*Maker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if orders == nil {
		return nil, errors.New("maker requires an order manager")
	}
	if guard == nil {
		guard = risk.NewGuard(risk.Config{})
	}
	return &Maker{
		cfg:        cfg,
		spec:       spec,
		orders:     orders,
		guard:      guard,
		metrics:    metrics,
		nowFn:      func() time.Time { return time.Now().UTC() },
		ctx:        context.Background(),
		bidLevels:  make(map[int]uint64),
		askLevels:  make(map[int]uint64),
		orderLevel: make(map[uint64]levelKey),
	}, nil
}

// Attach subscribes the maker to its symbol's partition. ctx bounds the
// intents issued from event handling.
func (m *Maker) Attach(ctx context.Context, b *bus.Bus) error {
	m.ctx = ctx
	return b.Subscribe(m.spec.ID, m.HandleEvent)
}

// HandleEvent is the bus handler. It must only ever run on the symbol's
// partition goroutine.
func (m *Maker) HandleEvent(e schema.Event) {
	m.metrics.ObserveEvent(e.Header)
	switch e.Header.Type {
	case schema.EventMarketData:
		if e.Market == nil {
			return
		}
		m.onSnapshot(*e.Market)
	case schema.EventOrder:
		if e.Order == nil {
			return
		}
		m.onOrder(*e.Order)
	case schema.EventPosition:
		if e.Position == nil {
			return
		}
		m.pos = *e.Position
		m.requote(false)
	}
}

func (m *Maker) onSnapshot(snap schema.MarketSnapshot) {
	if snap.Seq <= m.lastSeq {
		m.metrics.IncStaleSnapshot()
		logs.Debugf("maker[%s]: stale snapshot seq %d <= %d dropped", m.spec.Name, snap.Seq, m.lastSeq)
		return
	}
	m.lastSeq = snap.Seq
	m.snap = snap
	m.haveSnap = true
	m.requote(false)
}

func (m *Maker) onOrder(upd schema.OrderUpdate) {
	switch upd.Kind {
	case schema.OrderUpdateFilled:
		m.freeLevel(upd.ClientID)
		m.requote(true)
	case schema.OrderUpdatePartiallyFilled:
		m.requote(true)
	case schema.OrderUpdateCancelled, schema.OrderUpdateRejected:
		m.freeLevel(upd.ClientID)
		m.requote(false)
	case schema.OrderUpdateAcked, schema.OrderUpdateAmendAcked,
		schema.OrderUpdateAmendRejected, schema.OrderUpdateCancelRejected:
		m.requote(false)
	case schema.OrderUpdateUnconfirmed:
		// Leave the level occupied until reconciliation resolves it.
	}
}

func (m *Maker) freeLevel(clientID uint64) {
	key, ok := m.orderLevel[clientID]
	if !ok {
		return
	}
	delete(m.orderLevel, clientID)
	live := m.levels(key.side)
	if live[key.idx] == clientID {
		delete(live, key.idx)
	}
}

func (m *Maker) levels(side schema.OrderSide) map[int]uint64 {
	if side == schema.OrderSideBuy {
		return m.bidLevels
	}
	return m.askLevels
}

// requote recomputes the target ladder and reconciles live orders toward it.
// forced bypasses the rate limit, used after fills where inventory moved.
func (m *Maker) requote(forced bool) {
	if !m.haveSnap {
		return
	}
	now := m.nowFn()
	if !forced && m.cfg.MinRequoteInterval > 0 && now.UnixNano()-m.lastRequote < int64(m.cfg.MinRequoteInterval) {
		return
	}
	if err := m.guard.Check(m.snap, m.pos); err != nil {
		m.metrics.IncRiskDeny()
		logs.Warnf("maker[%s]: risk denied quoting: %+v", m.spec.Name, err)
		return
	}

	start := m.nowFn()
	ladder := quote.Compute(m.snap, m.pos, m.spec, m.cfg.Quote)
	m.metrics.ObserveCompute(m.nowFn().Sub(start))

	start = m.nowFn()
	m.applySide(schema.OrderSideBuy, ladder.Bids)
	m.applySide(schema.OrderSideSell, ladder.Asks)
	m.metrics.ObserveApply(m.nowFn().Sub(start))

	m.metrics.IncRequote()
	m.lastRequote = now.UnixNano()
}

// applySide diffs one side's live orders against the target levels by level
// index. A level whose live order has an action in flight is left alone until
// the next event resolves it.
func (m *Maker) applySide(side schema.OrderSide, targets []quote.Level) {
	live := m.levels(side)

	for idx, clientID := range live {
		if idx < len(targets) {
			continue
		}
		v, ok := m.orders.Order(clientID)
		if !ok || v.State.Terminal() {
			m.freeLevel(clientID)
			continue
		}
		if v.Pending() {
			continue
		}
		if err := m.orders.Cancel(m.ctx, clientID); err != nil {
			if errors.Is(err, exception.ErrOrderActionInFlight) {
				continue
			}
			logs.Warnf("maker[%s]: cancel level %d failed: %+v", m.spec.Name, idx, err)
		}
	}

	for idx, target := range targets {
		clientID, ok := live[idx]
		if ok {
			v, found := m.orders.Order(clientID)
			if found && !v.State.Terminal() {
				m.amendLevel(idx, v, target)
				continue
			}
			m.freeLevel(clientID)
		}

		id, err := m.orders.Place(m.ctx, m.spec.ID, side, target.Price, target.Size)
		if err != nil {
			logs.Warnf("maker[%s]: place %s level %d failed: %+v", m.spec.Name, side, idx, err)
			continue
		}
		live[idx] = id
		m.orderLevel[id] = levelKey{side: side, idx: idx}
	}
}

func (m *Maker) amendLevel(idx int, v oms.View, target quote.Level) {
	if v.Pending() {
		return
	}
	if !m.beyondThreshold(v, target) {
		return
	}
	if err := m.orders.Amend(m.ctx, v.ClientID, target.Price, target.Size); err != nil {
		if errors.Is(err, exception.ErrOrderActionInFlight) {
			return
		}
		logs.Warnf("maker[%s]: amend level %d failed: %+v", m.spec.Name, idx, err)
	}
}

// beyondThreshold reports whether the live order drifted far enough from the
// target to justify an amend. Small drifts are left untouched to preserve
// queue position.
func (m *Maker) beyondThreshold(v oms.View, target quote.Level) bool {
	dPrice := int64(v.Price) - int64(target.Price)
	if dPrice < 0 {
		dPrice = -dPrice
	}
	if dPrice > int64(m.cfg.RequotePriceThreshold) {
		return true
	}
	dSize := int64(v.Qty) - int64(target.Size)
	if dSize < 0 {
		dSize = -dSize
	}
	return dSize > int64(m.cfg.RequoteSizeThreshold)
}

// LiveLevels returns the current level occupancy, for inspection.
func (m *Maker) LiveLevels(side schema.OrderSide) map[int]uint64 {
	live := m.levels(side)
	out := make(map[int]uint64, len(live))
	for idx, id := range live {
		out[idx] = id
	}
	return out
}
