package state

import (
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Book tracks the net signed position and average entry price per symbol.
// Positions mutate only through ApplyFill; the OMS is the single writer.
type Book struct {
	positions map[schema.SymbolID]schema.Position
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[schema.SymbolID]schema.Position)}
}

// ApplyFill updates the symbol position from a fill and returns the new
// position. Buys increase the signed quantity, sells decrease it. Average
// entry price is volume-weighted while the position grows, unchanged while
// it shrinks, and restarts at the fill price when the position flips through
// zero.
func (b *Book) ApplyFill(symbolID schema.SymbolID, side schema.OrderSide, price schema.Price, qty schema.Quantity) schema.Position {
	pos := b.positions[symbolID]
	if qty <= 0 {
		return pos
	}

	delta := int64(qty)
	if side == schema.OrderSideSell {
		delta = -delta
	}
	prev := int64(pos.Qty)
	next := prev + delta

	switch {
	case prev == 0 || sameSign(prev, delta):
		pos.AvgEntryPrice = weightedEntry(pos.AvgEntryPrice, prev, price, delta)
	case next == 0:
		pos.AvgEntryPrice = 0
	case !sameSign(prev, next):
		// Flipped through zero; the remainder opened at the fill price.
		pos.AvgEntryPrice = price
	}
	pos.SymbolID = symbolID
	pos.Qty = schema.Quantity(next)
	b.positions[symbolID] = pos
	return pos
}

// Position returns the current position for a symbol.
func (b *Book) Position(symbolID schema.SymbolID) schema.Position {
	pos, ok := b.positions[symbolID]
	if !ok {
		return schema.Position{SymbolID: symbolID}
	}
	return pos
}

// Count returns the number of symbols with a recorded position.
func (b *Book) Count() int {
	return len(b.positions)
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// weightedEntry computes the volume-weighted average entry over the absolute
// quantities. On int64 overflow the previous average is kept.
func weightedEntry(prevAvg schema.Price, prevQty int64, price schema.Price, addQty int64) schema.Price {
	pq := absInt64(prevQty)
	aq := absInt64(addQty)
	if pq == 0 {
		return price
	}
	if overflowMul(int64(prevAvg), pq) || overflowMul(int64(price), aq) {
		logs.Warnf("state: entry price overflow, keeping previous average %d", prevAvg)
		return prevAvg
	}
	total := int64(prevAvg)*pq + int64(price)*aq
	return schema.Price(total / (pq + aq))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func overflowMul(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	return a > maxInt64/b
}
