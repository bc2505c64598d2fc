package oms

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Reconcile scans for in-flight actions past their deadline, marks each as
// Unconfirmed, then queries the exchange for the authoritative status and
// applies it. Run it on a ticker from the process main.
func (s *OMS) Reconcile(ctx context.Context) {
	now := s.nowFn().UnixNano()

	s.mu.RLock()
	expired := make([]*Order, 0, 4)
	unconfirmed := make([]*Order, 0, 4)
	for _, o := range s.orders {
		o.mu.Lock()
		switch {
		case o.state == StateUnconfirmed:
			unconfirmed = append(unconfirmed, o)
		case o.inflight != schema.IntentUnknown && o.deadline > 0 && o.deadline <= now:
			expired = append(expired, o)
		}
		o.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, o := range expired {
		o.mu.Lock()
		if o.state.Terminal() || o.inflight == schema.IntentUnknown || o.deadline == 0 || o.deadline > now {
			// Resolved between the scan and here.
			o.mu.Unlock()
			continue
		}
		o.state = StateUnconfirmed
		o.updatedAt = now
		action := o.inflight
		upd := o.update(schema.OrderUpdateUnconfirmed)
		o.mu.Unlock()

		s.metrics.IncInflightTimeout()
		logs.Warnf("oms: action %s timed out, client %d, querying exchange", action, o.clientID)
		s.publishOrder(o, upd)
		unconfirmed = append(unconfirmed, o)
	}

	for _, o := range unconfirmed {
		s.query(ctx, o)
	}
}

// RunReconcile drives Reconcile on a fixed interval until ctx is done.
func (s *OMS) RunReconcile(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

func (s *OMS) query(ctx context.Context, o *Order) {
	status, err := s.adapter.Query(ctx, o.clientID)
	if err != nil {
		logs.Errorf("oms: reconcile query failed, client %d, err: %+v", o.clientID, err)
		return
	}

	o.mu.Lock()
	if o.state != StateUnconfirmed {
		// A late acknowledgment beat the query.
		o.mu.Unlock()
		return
	}
	action := o.inflight
	o.committedSeq = o.actionSeq
	o.inflight = schema.IntentUnknown
	o.deadline = 0
	o.updatedAt = s.nowFn().UnixNano()

	if !status.Known {
		// The intent never reached the venue.
		var upd schema.OrderUpdate
		terminal := false
		switch action {
		case schema.IntentPlace:
			o.state = StateRejected
			upd = o.update(schema.OrderUpdateRejected)
			terminal = true
		case schema.IntentAmend:
			o.state = o.prevState
			upd = o.update(schema.OrderUpdateAmendRejected)
		case schema.IntentCancel:
			o.state = o.prevState
			upd = o.update(schema.OrderUpdateCancelRejected)
		default:
			// No action was pending; the venue has no record either.
			o.state = StateRejected
			upd = o.update(schema.OrderUpdateRejected)
			terminal = true
		}
		o.mu.Unlock()
		if terminal {
			s.removeOpen(o)
		}
		logs.Warnf("oms: reconcile resolved client %d as unknown at venue, action %s", o.clientID, action)
		s.publishOrder(o, upd)
		return
	}

	if status.ExchangeID != "" {
		o.exchangeID = status.ExchangeID
	}
	if status.Price > 0 {
		o.price = status.Price
	}
	if status.Qty > 0 {
		o.qty = status.Qty
	}
	fillDelta := status.FilledQty - o.filledQty
	if fillDelta > 0 {
		o.filledQty = status.FilledQty
	}

	kind := status.Kind
	terminal := false
	switch kind {
	case schema.OrderUpdateFilled:
		o.state = StateFilled
		terminal = true
	case schema.OrderUpdateCancelled:
		o.state = StateCancelled
		terminal = true
	case schema.OrderUpdateRejected:
		o.state = StateRejected
		terminal = true
	default:
		if o.filledQty >= o.qty && o.qty > 0 {
			o.state = StateFilled
			kind = schema.OrderUpdateFilled
			terminal = true
		} else if o.filledQty > 0 {
			o.state = StatePartiallyFilled
			kind = schema.OrderUpdatePartiallyFilled
		} else {
			o.state = StateOpen
			kind = schema.OrderUpdateAcked
		}
		o.prevState = o.state
	}
	symbolID := o.symbolID
	side := o.side
	price := o.price
	upd := o.update(kind)
	o.mu.Unlock()

	if terminal {
		s.removeOpen(o)
	}
	logs.Infof("oms: reconcile resolved client %d to %s", o.clientID, upd.Kind)
	s.publishOrder(o, upd)

	if fillDelta > 0 {
		s.bookMu.Lock()
		pos := s.book.ApplyFill(symbolID, side, price, fillDelta)
		s.bookMu.Unlock()
		s.publishPosition(pos, o.traceID)
	}
}

// Drain cancels every open order and waits for resolution or the context
// deadline. Used during graceful shutdown.
func (s *OMS) Drain(ctx context.Context) {
	s.mu.RLock()
	symbols := make([]schema.SymbolID, 0, len(s.open))
	for sid := range s.open {
		symbols = append(symbols, sid)
	}
	s.mu.RUnlock()

	for _, sid := range symbols {
		for _, v := range s.OpenOrders(sid) {
			if v.State.Terminal() || v.Inflight == schema.IntentCancel {
				continue
			}
			if err := s.Cancel(ctx, v.ClientID); err != nil {
				logs.Warnf("oms: drain cancel failed, client %d, err: %+v", v.ClientID, err)
			}
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logs.Warnf("oms: drain timed out with %d open orders", s.openCount())
			return
		case <-ticker.C:
			s.Reconcile(ctx)
			if s.openCount() == 0 {
				return
			}
		}
	}
}

func (s *OMS) openCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, bySymbol := range s.open {
		n += len(bySymbol)
	}
	return n
}
