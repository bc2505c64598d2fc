package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event on the bus.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventMarketData
	EventOrder
	EventPosition
)

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}

// Event is the tagged variant delivered through the bus. Exactly one of
// Market, Order and Position is non-nil, matching Header.Type. Events are
// immutable once published.
type Event struct {
	Header   EventHeader
	SymbolID SymbolID
	Market   *MarketSnapshot
	Order    *OrderUpdate
	Position *Position
}
