package schema

// Price is a scaled integer. The scale is defined by the symbol registry.
type Price int64

// Quantity is a scaled integer. The scale is defined by the symbol registry.
type Quantity int64

// Notional is a scaled integer. The scale is defined by the symbol registry.
type Notional int64

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarketSnapshot is the payload for EventMarketData. Volatility is an opaque
// scalar in price units supplied by an external estimator. Seq increases per
// symbol; consumers discard snapshots older than the last seen sequence.
type MarketSnapshot struct {
	SymbolID   SymbolID
	Seq        uint64
	BidPrice   Price
	BidSize    Quantity
	AskPrice   Price
	AskSize    Quantity
	MidPrice   Price
	Volatility Price
	TsEvent    int64
}

// OrderUpdateKind tags the meaning of an OrderUpdate.
type OrderUpdateKind uint16

const (
	OrderUpdateUnknown OrderUpdateKind = iota
	OrderUpdateAcked
	OrderUpdateRejected
	OrderUpdatePartiallyFilled
	OrderUpdateFilled
	OrderUpdateCancelled
	OrderUpdateCancelRejected
	OrderUpdateAmendAcked
	OrderUpdateAmendRejected
	OrderUpdateUnconfirmed
)

func (k OrderUpdateKind) String() string {
	switch k {
	case OrderUpdateAcked:
		return "acked"
	case OrderUpdateRejected:
		return "rejected"
	case OrderUpdatePartiallyFilled:
		return "partially_filled"
	case OrderUpdateFilled:
		return "filled"
	case OrderUpdateCancelled:
		return "cancelled"
	case OrderUpdateCancelRejected:
		return "cancel_rejected"
	case OrderUpdateAmendAcked:
		return "amend_acked"
	case OrderUpdateAmendRejected:
		return "amend_rejected"
	case OrderUpdateUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// OrderUpdate is the payload for EventOrder, published by the OMS after it
// commits a state change.
type OrderUpdate struct {
	ClientID   uint64
	ExchangeID string
	SymbolID   SymbolID
	Side       OrderSide
	Kind       OrderUpdateKind
	Price      Price
	Qty        Quantity
	FilledQty  Quantity
	ActionSeq  uint64
}

// Position is the payload for EventPosition. Qty is signed; AvgEntryPrice is
// zero when flat.
type Position struct {
	SymbolID      SymbolID
	Qty           Quantity
	AvgEntryPrice Price
}

// IntentAction routes an intent to place, amend or cancel.
type IntentAction uint16

const (
	IntentUnknown IntentAction = iota
	IntentPlace
	IntentAmend
	IntentCancel
)

func (a IntentAction) String() string {
	switch a {
	case IntentPlace:
		return "place"
	case IntentAmend:
		return "amend"
	case IntentCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Intent is a locally-initiated order action consumed by the exchange
// adapter. ActionSeq echoes back on the acknowledgment so the OMS can discard
// out-of-order responses.
type Intent struct {
	Action    IntentAction
	ClientID  uint64
	SymbolID  SymbolID
	Side      OrderSide
	Price     Price
	Qty       Quantity
	ActionSeq uint64
}
