package exchange

import (
	"context"

	"main/internal/schema"
)

// Adapter is the venue-facing boundary. It consumes OMS intents and reports
// authoritative order status on demand. Implementations must echo the intent's
// ActionSeq on every acknowledgment and deliver terminal events (fills,
// rejects, cancel acks) at least once.
type Adapter interface {
	Submit(ctx context.Context, intent schema.Intent) error
	Query(ctx context.Context, clientID uint64) (OrderStatus, error)
}

// OrderStatus is the authoritative view returned by a status query, used by
// the OMS reconciliation path for unconfirmed in-flight actions.
type OrderStatus struct {
	Known      bool
	ExchangeID string
	Kind       schema.OrderUpdateKind
	Price      schema.Price
	Qty        schema.Quantity
	FilledQty  schema.Quantity
}

// Sink receives acknowledgment, reject, cancel and fill callbacks from the
// adapter. The OMS implements it. Every seq echoes the ActionSeq of the
// originating intent; fills carry the executed delta quantity.
type Sink interface {
	OnAck(clientID, seq uint64, exchangeID string)
	OnReject(clientID, seq uint64, reason string)
	OnAmendAck(clientID, seq uint64, price schema.Price, qty schema.Quantity)
	OnAmendReject(clientID, seq uint64, reason string)
	OnCancelAck(clientID, seq uint64)
	OnCancelReject(clientID, seq uint64, reason string)
	OnFill(clientID uint64, price schema.Price, qty schema.Quantity)
}
