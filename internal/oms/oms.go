package oms

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/exception"
)

// Publisher is the non-blocking event outlet the OMS emits on. A failed
// order/position publish is counted and logged loudly; it indicates the bus
// partition is undersized, never an acceptable drop.
type Publisher interface {
	TryPublish(schema.Event) error
}

// Config controls OMS behavior.
type Config struct {
	InflightTimeout time.Duration `json:"inflightTimeout"`
}

// OMS owns the authoritative record of every order: an arena of Order
// records keyed by client id, mutated only through the public operations and
// exchange event ingestion below. It enforces one in-flight action per order
// and discards stale acknowledgments by action sequence.
type OMS struct {
	cfg       Config
	adapter   exchange.Adapter
	publisher Publisher
	metrics   *obs.Metrics
	trace     *obs.OrderTracer

	bookMu sync.Mutex
	book   *state.Book

	mu     sync.RWMutex
	orders map[uint64]*Order
	open   map[schema.SymbolID]map[uint64]*Order

	nextClientID atomic.Uint64
	eventSeq     atomic.Uint64
	nowFn        func() time.Time
}

// New creates an OMS over the given exchange adapter and position book.
func New(cfg Config, adapter exchange.Adapter, publisher Publisher, book *state.Book, metrics *obs.Metrics) *OMS {
	if cfg.InflightTimeout <= 0 {
		cfg.InflightTimeout = 10 * time.Second
	}
	if book == nil {
		book = state.NewBook()
	}
	return &OMS{
		cfg:       cfg,
		adapter:   adapter,
		publisher: publisher,
		metrics:   metrics,
		trace:     obs.NewOrderTracer(),
		book:      book,
		orders:    make(map[uint64]*Order),
		open:      make(map[schema.SymbolID]map[uint64]*Order),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Place creates a new order, moves it Created to PendingNew, and submits
// the intent. Returns the
// client id used to correlate all subsequent exchange responses.
func (s *OMS) Place(ctx context.Context, symbolID schema.SymbolID, side schema.OrderSide, price schema.Price, qty schema.Quantity) (uint64, error) {
	if symbolID == 0 || side == schema.OrderSideUnknown || price <= 0 || qty <= 0 {
		return 0, exception.ErrOrderInvalidIntent
	}
	now := s.nowFn().UnixNano()
	o := &Order{
		clientID:  s.nextClientID.Add(1),
		traceID:   s.trace.Next(),
		symbolID:  symbolID,
		side:      side,
		price:     price,
		qty:       qty,
		state:     StateCreated,
		prevState: StateCreated,
		actionSeq: 1,
		createdAt: now,
		updatedAt: now,
	}

	s.mu.Lock()
	s.orders[o.clientID] = o
	bySymbol, ok := s.open[symbolID]
	if !ok {
		bySymbol = make(map[uint64]*Order)
		s.open[symbolID] = bySymbol
	}
	bySymbol[o.clientID] = o
	s.mu.Unlock()

	o.mu.Lock()
	o.state = StatePendingNew
	o.prevState = StatePendingNew
	o.inflight = schema.IntentPlace
	o.deadline = now + int64(s.cfg.InflightTimeout)
	o.mu.Unlock()

	s.metrics.IncIntent(schema.IntentPlace)
	err := s.adapter.Submit(ctx, schema.Intent{
		Action:    schema.IntentPlace,
		ClientID:  o.clientID,
		SymbolID:  symbolID,
		Side:      side,
		Price:     price,
		Qty:       qty,
		ActionSeq: 1,
	})
	if err != nil {
		// The intent may or may not have left; only the reconciliation
		// query can tell. Expire it immediately.
		o.mu.Lock()
		o.state = StateUnconfirmed
		o.deadline = now
		o.mu.Unlock()
		logs.Errorf("oms: place submit failed, client %d, err: %+v", o.clientID, err)
		return o.clientID, err
	}
	return o.clientID, nil
}

// Amend replaces the price and quantity of an open order. Fails with
// ErrOrderActionInFlight while another action awaits acknowledgment; the
// caller retries after resolution.
func (s *OMS) Amend(ctx context.Context, clientID uint64, price schema.Price, qty schema.Quantity) error {
	if price <= 0 || qty <= 0 {
		return exception.ErrOrderInvalidIntent
	}
	return s.submitAction(ctx, clientID, schema.IntentAmend, price, qty)
}

// Cancel requests cancellation of an open order.
func (s *OMS) Cancel(ctx context.Context, clientID uint64) error {
	return s.submitAction(ctx, clientID, schema.IntentCancel, 0, 0)
}

func (s *OMS) submitAction(ctx context.Context, clientID uint64, action schema.IntentAction, price schema.Price, qty schema.Quantity) error {
	o, ok := s.order(clientID)
	if !ok {
		return exception.ErrOrderUnknown
	}

	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return exception.ErrOrderTerminal
	}
	if o.inflight != schema.IntentUnknown {
		o.mu.Unlock()
		return exception.ErrOrderActionInFlight
	}
	now := s.nowFn().UnixNano()
	o.prevState = o.state
	o.actionSeq++
	o.inflight = action
	o.deadline = now + int64(s.cfg.InflightTimeout)
	o.updatedAt = now
	intent := schema.Intent{
		Action:    action,
		ClientID:  clientID,
		SymbolID:  o.symbolID,
		Side:      o.side,
		ActionSeq: o.actionSeq,
	}
	switch action {
	case schema.IntentAmend:
		o.state = StatePendingAmend
		o.pendingPrice = price
		o.pendingQty = qty
		intent.Price = price
		intent.Qty = qty
	case schema.IntentCancel:
		o.state = StatePendingCancel
		intent.Price = o.price
		intent.Qty = o.qty
	}
	o.mu.Unlock()

	s.metrics.IncIntent(action)
	if err := s.adapter.Submit(ctx, intent); err != nil {
		o.mu.Lock()
		o.state = StateUnconfirmed
		o.deadline = now
		o.mu.Unlock()
		logs.Errorf("oms: %s submit failed, client %d, err: %+v", action, clientID, err)
		return err
	}
	return nil
}

// OpenOrders returns a snapshot of all non-terminal orders for a symbol,
// ordered by client id.
func (s *OMS) OpenOrders(symbolID schema.SymbolID) []View {
	s.mu.RLock()
	bySymbol := s.open[symbolID]
	orders := make([]*Order, 0, len(bySymbol))
	for _, o := range bySymbol {
		orders = append(orders, o)
	}
	s.mu.RUnlock()

	views := make([]View, 0, len(orders))
	for _, o := range orders {
		o.mu.Lock()
		views = append(views, o.view())
		o.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ClientID < views[j].ClientID })
	return views
}

// Order returns a snapshot of a single order.
func (s *OMS) Order(clientID uint64) (View, bool) {
	o, ok := s.order(clientID)
	if !ok {
		return View{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view(), true
}

// Position returns the current position for a symbol.
func (s *OMS) Position(symbolID schema.SymbolID) schema.Position {
	s.bookMu.Lock()
	defer s.bookMu.Unlock()
	return s.book.Position(symbolID)
}

func (s *OMS) order(clientID uint64) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[clientID]
	return o, ok
}

func (s *OMS) removeOpen(o *Order) {
	s.mu.Lock()
	if bySymbol, ok := s.open[o.symbolID]; ok {
		delete(bySymbol, o.clientID)
	}
	s.mu.Unlock()
}

// resolve validates that an acknowledgment matches the outstanding action.
// Stale or unmatched acknowledgments are discarded here, logged and counted,
// never surfaced to the orchestrator. Must hold o.mu.
func (s *OMS) resolve(o *Order, seq uint64, action schema.IntentAction) bool {
	if o.state.Terminal() || seq <= o.committedSeq {
		s.metrics.IncStaleAck()
		logs.Debugf("oms: stale ack discarded, client %d seq %d committed %d", o.clientID, seq, o.committedSeq)
		return false
	}
	if seq != o.actionSeq || o.inflight != action {
		s.metrics.IncStaleAck()
		logs.Warnf("oms: unmatched ack discarded, client %d seq %d action %s inflight %s", o.clientID, seq, action, o.inflight)
		return false
	}
	o.committedSeq = seq
	o.inflight = schema.IntentUnknown
	o.deadline = 0
	o.updatedAt = s.nowFn().UnixNano()
	return true
}

// OnAck transitions PendingNew to Open and records the exchange id.
func (s *OMS) OnAck(clientID, seq uint64, exchangeID string) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: ack for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentPlace) {
		o.mu.Unlock()
		return
	}
	o.exchangeID = exchangeID
	if o.filledQty > 0 {
		o.state = StatePartiallyFilled
	} else {
		o.state = StateOpen
	}
	o.prevState = o.state
	upd := o.update(schema.OrderUpdateAcked)
	o.mu.Unlock()
	s.publishOrder(o, upd)
}

// OnReject terminates a PendingNew order.
func (s *OMS) OnReject(clientID, seq uint64, reason string) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: reject for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentPlace) {
		o.mu.Unlock()
		return
	}
	o.state = StateRejected
	upd := o.update(schema.OrderUpdateRejected)
	o.mu.Unlock()

	s.removeOpen(o)
	logs.Warnf("oms: order rejected, client %d: %s", clientID, reason)
	s.publishOrder(o, upd)
}

// OnAmendAck applies the pending terms of a PendingAmend order.
func (s *OMS) OnAmendAck(clientID, seq uint64, price schema.Price, qty schema.Quantity) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: amend ack for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentAmend) {
		o.mu.Unlock()
		return
	}
	if price > 0 {
		o.price = price
	} else {
		o.price = o.pendingPrice
	}
	if qty > 0 {
		o.qty = qty
	} else {
		o.qty = o.pendingQty
	}
	terminal := false
	switch {
	case o.filledQty >= o.qty:
		o.qty = o.filledQty
		o.state = StateFilled
		terminal = true
	case o.filledQty > 0:
		o.state = StatePartiallyFilled
	default:
		o.state = StateOpen
	}
	o.prevState = o.state
	upd := o.update(schema.OrderUpdateAmendAcked)
	o.mu.Unlock()

	if terminal {
		s.removeOpen(o)
	}
	s.publishOrder(o, upd)
}

// OnAmendReject restores a PendingAmend order unchanged.
func (s *OMS) OnAmendReject(clientID, seq uint64, reason string) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: amend reject for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentAmend) {
		o.mu.Unlock()
		return
	}
	o.state = o.prevState
	upd := o.update(schema.OrderUpdateAmendRejected)
	o.mu.Unlock()

	logs.Warnf("oms: amend rejected, client %d: %s", clientID, reason)
	s.publishOrder(o, upd)
}

// OnCancelAck terminates a PendingCancel order.
func (s *OMS) OnCancelAck(clientID, seq uint64) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: cancel ack for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentCancel) {
		o.mu.Unlock()
		return
	}
	o.state = StateCancelled
	upd := o.update(schema.OrderUpdateCancelled)
	o.mu.Unlock()

	s.removeOpen(o)
	s.publishOrder(o, upd)
}

// OnCancelReject restores a PendingCancel order unchanged.
func (s *OMS) OnCancelReject(clientID, seq uint64, reason string) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: cancel reject for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if !s.resolve(o, seq, schema.IntentCancel) {
		o.mu.Unlock()
		return
	}
	o.state = o.prevState
	upd := o.update(schema.OrderUpdateCancelRejected)
	o.mu.Unlock()

	logs.Warnf("oms: cancel rejected, client %d: %s", clientID, reason)
	s.publishOrder(o, upd)
}

// OnFill applies an executed delta quantity. Fills are not gated by action
// sequence: quantity working at the venue can execute while an amend or
// cancel is still in flight. Duplicate terminal fills are ignored so
// at-least-once delivery keeps filledQty monotone and capped at qty.
func (s *OMS) OnFill(clientID uint64, price schema.Price, qty schema.Quantity) {
	o, ok := s.order(clientID)
	if !ok {
		logs.Warnf("oms: fill for unknown client %d", clientID)
		return
	}
	o.mu.Lock()
	if o.state.Terminal() {
		logs.Debugf("oms: fill on terminal order discarded, client %d", clientID)
		o.mu.Unlock()
		return
	}
	if qty <= 0 {
		logs.Warnf("oms: invalid fill qty %d, client %d", qty, clientID)
		o.mu.Unlock()
		return
	}
	if remaining := o.qty - o.filledQty; qty > remaining {
		qty = remaining
	}
	if qty <= 0 {
		o.mu.Unlock()
		return
	}
	o.filledQty += qty
	o.updatedAt = s.nowFn().UnixNano()
	kind := schema.OrderUpdatePartiallyFilled
	terminal := false
	if o.filledQty == o.qty {
		kind = schema.OrderUpdateFilled
		o.state = StateFilled
		terminal = true
	} else {
		if o.state == StateOpen {
			o.state = StatePartiallyFilled
		}
		if o.prevState == StateOpen {
			o.prevState = StatePartiallyFilled
		}
	}
	symbolID := o.symbolID
	side := o.side
	upd := o.update(kind)
	o.mu.Unlock()

	if terminal {
		s.removeOpen(o)
	}
	s.publishOrder(o, upd)

	s.bookMu.Lock()
	pos := s.book.ApplyFill(symbolID, side, price, qty)
	s.bookMu.Unlock()
	s.publishPosition(pos, o.traceID)
}

func (s *OMS) publishOrder(o *Order, upd schema.OrderUpdate) {
	if s.publisher == nil {
		return
	}
	now := s.nowFn().UnixNano()
	e := schema.Event{
		Header:   schema.NewHeader(schema.EventOrder, s.eventSeq.Add(1), now, now),
		SymbolID: o.symbolID,
		Order:    &upd,
	}
	e.Header.TraceID = o.traceID
	if err := s.publisher.TryPublish(e); err != nil {
		s.metrics.IncLostEvent()
		logs.Errorf("oms: LOST order event, client %d kind %s, increase bus capacity, err: %+v", upd.ClientID, upd.Kind, err)
	}
}

func (s *OMS) publishPosition(pos schema.Position, traceID uint64) {
	if s.publisher == nil {
		return
	}
	now := s.nowFn().UnixNano()
	e := schema.Event{
		Header:   schema.NewHeader(schema.EventPosition, s.eventSeq.Add(1), now, now),
		SymbolID: pos.SymbolID,
		Position: &pos,
	}
	e.Header.TraceID = traceID
	if err := s.publisher.TryPublish(e); err != nil {
		s.metrics.IncLostEvent()
		logs.Errorf("oms: LOST position event, symbol %d, increase bus capacity, err: %+v", pos.SymbolID, err)
	}
}
