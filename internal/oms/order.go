package oms

import (
	"sync"

	"main/internal/schema"
)

// State tracks the lifecycle of an order.
type State uint16

const (
	StateUnknown State = iota
	StateCreated
	StatePendingNew
	StateOpen
	StatePendingAmend
	StatePendingCancel
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
	StateUnconfirmed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePendingNew:
		return "pending_new"
	case StateOpen:
		return "open"
	case StatePendingAmend:
		return "pending_amend"
	case StatePendingCancel:
		return "pending_cancel"
	case StatePartiallyFilled:
		return "partially_filled"
	case StateFilled:
		return "filled"
	case StateCancelled:
		return "cancelled"
	case StateRejected:
		return "rejected"
	case StateUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further actions or events apply.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// Order is the OMS-owned record of a single order. The OMS is the only
// writer of state and filledQty. Access to one order is serialized by its
// own mutex; unrelated orders proceed fully in parallel.
type Order struct {
	mu sync.Mutex

	clientID   uint64
	exchangeID string
	symbolID   schema.SymbolID
	side       schema.OrderSide
	traceID    uint64 // immutable; correlates every event of this order

	price     schema.Price
	qty       schema.Quantity
	filledQty schema.Quantity

	state     State
	prevState State // committed state to restore on amend/cancel reject

	// Every locally-initiated action bumps actionSeq; committedSeq is the
	// sequence of the last resolved action. Acknowledgments older than
	// committedSeq are stale and discarded.
	actionSeq    uint64
	committedSeq uint64
	inflight     schema.IntentAction
	deadline     int64 // ns; in-flight action expires into reconciliation

	// Amend terms applied on AmendAcked.
	pendingPrice schema.Price
	pendingQty   schema.Quantity

	createdAt int64
	updatedAt int64
}

// View is an immutable copy of an order's committed state.
type View struct {
	ClientID   uint64
	ExchangeID string
	SymbolID   schema.SymbolID
	Side       schema.OrderSide
	Price      schema.Price
	Qty        schema.Quantity
	FilledQty  schema.Quantity
	State      State
	Inflight   schema.IntentAction
	ActionSeq  uint64
}

func (o *Order) view() View {
	return View{
		ClientID:   o.clientID,
		ExchangeID: o.exchangeID,
		SymbolID:   o.symbolID,
		Side:       o.side,
		Price:      o.price,
		Qty:        o.qty,
		FilledQty:  o.filledQty,
		State:      o.state,
		Inflight:   o.inflight,
		ActionSeq:  o.actionSeq,
	}
}

// Pending reports whether a local action awaits acknowledgment.
func (v View) Pending() bool {
	switch v.State {
	case StatePendingNew, StatePendingAmend, StatePendingCancel, StateUnconfirmed:
		return true
	default:
		return false
	}
}

func (o *Order) update(kind schema.OrderUpdateKind) schema.OrderUpdate {
	return schema.OrderUpdate{
		ClientID:   o.clientID,
		ExchangeID: o.exchangeID,
		SymbolID:   o.symbolID,
		Side:       o.side,
		Kind:       kind,
		Price:      o.price,
		Qty:        o.qty,
		FilledQty:  o.filledQty,
		ActionSeq:  o.actionSeq,
	}
}
