package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"main/internal/schema"
)

func TestApplyFillOpensAndGrows(t *testing.T) {
	b := NewBook()

	pos := b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)
	assert.Equal(t, schema.Quantity(10), pos.Qty)
	assert.Equal(t, schema.Price(100_00), pos.AvgEntryPrice)

	// 10 @ 100.00 plus 10 @ 102.00 averages to 101.00.
	pos = b.ApplyFill(1, schema.OrderSideBuy, 102_00, 10)
	assert.Equal(t, schema.Quantity(20), pos.Qty)
	assert.Equal(t, schema.Price(101_00), pos.AvgEntryPrice)
}

func TestApplyFillReduceKeepsEntry(t *testing.T) {
	b := NewBook()
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)

	pos := b.ApplyFill(1, schema.OrderSideSell, 110_00, 4)
	assert.Equal(t, schema.Quantity(6), pos.Qty)
	assert.Equal(t, schema.Price(100_00), pos.AvgEntryPrice, "entry unchanged while reducing")
}

func TestApplyFillExactCloseZeroesEntry(t *testing.T) {
	b := NewBook()
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)

	pos := b.ApplyFill(1, schema.OrderSideSell, 110_00, 10)
	assert.Zero(t, pos.Qty)
	assert.Zero(t, pos.AvgEntryPrice)
}

func TestApplyFillFlipRestartsEntry(t *testing.T) {
	b := NewBook()
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)

	pos := b.ApplyFill(1, schema.OrderSideSell, 110_00, 15)
	assert.Equal(t, schema.Quantity(-5), pos.Qty)
	assert.Equal(t, schema.Price(110_00), pos.AvgEntryPrice, "remainder opened at the fill price")
}

func TestApplyFillShortSide(t *testing.T) {
	b := NewBook()

	pos := b.ApplyFill(1, schema.OrderSideSell, 200_00, 10)
	assert.Equal(t, schema.Quantity(-10), pos.Qty)
	assert.Equal(t, schema.Price(200_00), pos.AvgEntryPrice)

	pos = b.ApplyFill(1, schema.OrderSideSell, 220_00, 10)
	assert.Equal(t, schema.Quantity(-20), pos.Qty)
	assert.Equal(t, schema.Price(210_00), pos.AvgEntryPrice)
}

func TestApplyFillIgnoresNonPositiveQty(t *testing.T) {
	b := NewBook()
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)

	pos := b.ApplyFill(1, schema.OrderSideBuy, 200_00, 0)
	assert.Equal(t, schema.Quantity(10), pos.Qty)
	assert.Equal(t, schema.Price(100_00), pos.AvgEntryPrice)
}

func TestPositionsAreIndependentPerSymbol(t *testing.T) {
	b := NewBook()
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)
	b.ApplyFill(2, schema.OrderSideSell, 50_00, 3)

	assert.Equal(t, schema.Quantity(10), b.Position(1).Qty)
	assert.Equal(t, schema.Quantity(-3), b.Position(2).Qty)
	assert.Zero(t, b.Position(3).Qty)
	assert.Equal(t, 2, b.Count())
}

func TestApplyFillProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBook()
		n := rapid.IntRange(1, 30).Draw(t, "fills")

		var net int64
		var lo, hi schema.Price
		for i := 0; i < n; i++ {
			side := schema.OrderSideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = schema.OrderSideSell
			}
			price := schema.Price(rapid.Int64Range(1_00, 1_000_00).Draw(t, "price"))
			qty := schema.Quantity(rapid.Int64Range(1, 1_000).Draw(t, "qty"))
			if lo == 0 || price < lo {
				lo = price
			}
			if price > hi {
				hi = price
			}

			delta := int64(qty)
			if side == schema.OrderSideSell {
				delta = -delta
			}
			net += delta

			pos := b.ApplyFill(1, side, price, qty)
			require.Equal(t, schema.Quantity(net), pos.Qty, "position is the signed sum of fills")
			if pos.Qty == 0 {
				require.Zero(t, pos.AvgEntryPrice)
			} else {
				require.GreaterOrEqual(t, pos.AvgEntryPrice, lo, "entry bounded by observed prices")
				require.LessOrEqual(t, pos.AvgEntryPrice, hi)
			}
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := NewBook()
	b.ApplyFill(2, schema.OrderSideSell, 50_00, 3)
	b.ApplyFill(1, schema.OrderSideBuy, 100_00, 10)

	snap := b.Snapshot()
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, uint32(1), snap.Positions[0].SymbolID, "entries sorted by symbol")

	path := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.NoError(t, CompareSnapshots(snap, loaded))
}

func TestCompareSnapshotsMismatch(t *testing.T) {
	a := Snapshot{Positions: []PositionEntry{{SymbolID: 1, Qty: 10, AvgEntryPrice: 100_00}}}
	assert.Error(t, CompareSnapshots(a, Snapshot{}))

	other := Snapshot{Positions: []PositionEntry{{SymbolID: 2, Qty: 10, AvgEntryPrice: 100_00}}}
	assert.Error(t, CompareSnapshots(a, other))

	drift := Snapshot{Positions: []PositionEntry{{SymbolID: 1, Qty: 11, AvgEntryPrice: 100_00}}}
	assert.Error(t, CompareSnapshots(a, drift))

	assert.NoError(t, CompareSnapshots(a, a))
}

func TestReadSnapshotMissingFile(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
