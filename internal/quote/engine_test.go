package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"main/internal/schema"
)

func testSpec() schema.SymbolSpec {
	return schema.SymbolSpec{
		ID:            1,
		Name:          "BTC-USD",
		PriceScale:    2,
		QuantityScale: 0,
		TickSize:      1,
		LotSize:       1,
	}
}

func baseConfig() Config {
	return Config{
		SpreadBps:           10,
		VolWidthPermille:    0,
		MinTickDistance:     1,
		SkewBps:             0,
		MaxSkewBps:          0,
		BaseSize:            100,
		SizeGrowthPermille:  600,
		Levels:              3,
		MaxExposureNotional: 100_000_000,
	}
}

func snapshot(mid schema.Price) schema.MarketSnapshot {
	return schema.MarketSnapshot{
		SymbolID: 1,
		Seq:      1,
		BidPrice: mid - 1,
		AskPrice: mid + 1,
		MidPrice: mid,
	}
}

func TestComputeBaseLadder(t *testing.T) {
	ladder := Compute(snapshot(100_00), schema.Position{}, testSpec(), baseConfig())

	// 10 bps on 100.00 is a 0.05 half-spread; levels step out by it.
	require.Len(t, ladder.Bids, 3)
	require.Len(t, ladder.Asks, 3)
	assert.Equal(t, []Level{
		{Price: 99_95, Size: 100},
		{Price: 99_90, Size: 60},
		{Price: 99_85, Size: 36},
	}, ladder.Bids)
	assert.Equal(t, []Level{
		{Price: 100_05, Size: 100},
		{Price: 100_10, Size: 60},
		{Price: 100_15, Size: 36},
	}, ladder.Asks)
}

func TestComputeDeterministic(t *testing.T) {
	snap := snapshot(123_45)
	snap.Volatility = 7
	pos := schema.Position{SymbolID: 1, Qty: 250, AvgEntryPrice: 120_00}

	first := Compute(snap, pos, testSpec(), baseConfig())
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Compute(snap, pos, testSpec(), baseConfig()))
	}
}

func TestVolatilityWidensSpread(t *testing.T) {
	cfg := baseConfig()
	cfg.VolWidthPermille = 500

	calm := Compute(snapshot(100_00), schema.Position{}, testSpec(), cfg)

	snap := snapshot(100_00)
	snap.Volatility = 10
	stormy := Compute(snap, schema.Position{}, testSpec(), cfg)

	// Half-spread grows by vol*500/1000 = 5 ticks.
	assert.Equal(t, schema.Price(99_95), calm.Bids[0].Price)
	assert.Equal(t, schema.Price(99_90), stormy.Bids[0].Price)
	assert.Equal(t, schema.Price(100_10), stormy.Asks[0].Price)
}

func TestLongInventorySkewsQuotesDown(t *testing.T) {
	cfg := baseConfig()
	cfg.SkewBps = 20
	cfg.MaxSkewBps = 40
	cfg.MaxExposureNotional = 20_000_000

	flat := Compute(snapshot(100_00), schema.Position{}, testSpec(), cfg)
	long := Compute(snapshot(100_00), schema.Position{SymbolID: 1, Qty: 1000}, testSpec(), cfg)

	// posNotional 10M of 20M cap at 20 bps = 10 bps shift = 0.10.
	assert.Equal(t, schema.Price(99_95), flat.Bids[0].Price)
	assert.Equal(t, schema.Price(99_85), long.Bids[0].Price)
	assert.Less(t, long.Asks[0].Price, flat.Asks[0].Price, "both sides shift down")
}

func TestSkewClampedAndNeverCrosses(t *testing.T) {
	cfg := baseConfig()
	cfg.SkewBps = 2_000
	cfg.MaxSkewBps = 200
	cfg.MaxExposureNotional = 100_000_000

	snap := snapshot(100_00)
	long := Compute(snap, schema.Position{SymbolID: 1, Qty: 10_000}, testSpec(), cfg)
	short := Compute(snap, schema.Position{SymbolID: 1, Qty: -10_000}, testSpec(), cfg)

	// Raw skew would be thousands of bps; the clamp holds it at 200, a
	// 2.00 shift, and the cross clamps pin the near side at the touch.
	require.NotEmpty(t, long.Asks)
	require.NotEmpty(t, short.Bids)
	assert.Equal(t, schema.Price(97_95), long.Bids[0].Price)
	assert.Equal(t, snap.BidPrice+1, long.Asks[0].Price)
	assert.Equal(t, snap.AskPrice-1, short.Bids[0].Price)
	assert.Equal(t, schema.Price(102_05), short.Asks[0].Price)
	for _, l := range long.Asks {
		assert.Greater(t, l.Price, snap.BidPrice, "ask never reaches the best bid")
	}
	for _, l := range short.Bids {
		assert.Less(t, l.Price, snap.AskPrice, "bid never reaches the best ask")
	}
}

func TestMinTickDistanceFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.SpreadBps = 1
	cfg.MinTickDistance = 2

	ladder := Compute(snapshot(100_00), schema.Position{}, testSpec(), cfg)

	// 1 bp on 100.00 rounds to zero ticks; the floor keeps 2 ticks out.
	assert.Equal(t, schema.Price(99_98), ladder.Bids[0].Price)
	assert.Equal(t, schema.Price(100_02), ladder.Asks[0].Price)
}

func TestSizesRoundToLot(t *testing.T) {
	spec := testSpec()
	spec.LotSize = 10
	ladder := Compute(snapshot(100_00), schema.Position{}, spec, baseConfig())

	require.Len(t, ladder.Bids, 3)
	assert.Equal(t, schema.Quantity(100), ladder.Bids[0].Size)
	assert.Equal(t, schema.Quantity(60), ladder.Bids[1].Size)
	assert.Equal(t, schema.Quantity(30), ladder.Bids[2].Size)
}

func TestExposureBudgetTruncatesLadder(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxExposureNotional = 2_100_000

	ladder := Compute(snapshot(100_00), schema.Position{}, testSpec(), cfg)

	// Level 0 alone costs 2*100*100.05; level 1 would breach the cap.
	require.Len(t, ladder.Bids, 1)
	require.Len(t, ladder.Asks, 1)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero spread":     func(c *Config) { c.SpreadBps = 0 },
		"negative vol":    func(c *Config) { c.VolWidthPermille = -1 },
		"zero tick floor": func(c *Config) { c.MinTickDistance = 0 },
		"negative skew":   func(c *Config) { c.SkewBps = -1 },
		"zero base size":  func(c *Config) { c.BaseSize = 0 },
		"zero growth":     func(c *Config) { c.SizeGrowthPermille = 0 },
		"zero levels":     func(c *Config) { c.Levels = 0 },
		"zero budget":     func(c *Config) { c.MaxExposureNotional = 0 },
	}
	require.NoError(t, baseConfig().Validate())
	for name, mutate := range mutations {
		cfg := baseConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestEmptyLadderOnBadMid(t *testing.T) {
	snap := schema.MarketSnapshot{SymbolID: 1, Seq: 1}
	ladder := Compute(snap, schema.Position{}, testSpec(), baseConfig())
	assert.True(t, ladder.Empty())
}

func TestComputeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mid := schema.Price(rapid.Int64Range(10_00, 100_000_00).Draw(t, "mid"))
		vol := schema.Price(rapid.Int64Range(0, 100).Draw(t, "vol"))
		qty := schema.Quantity(rapid.Int64Range(-5_000, 5_000).Draw(t, "posQty"))

		cfg := baseConfig()
		cfg.VolWidthPermille = 500
		cfg.SkewBps = 30
		cfg.MaxSkewBps = 60
		cfg.MaxExposureNotional = schema.Notional(rapid.Int64Range(1_000_000, 10_000_000_000).Draw(t, "budget"))

		snap := snapshot(mid)
		snap.Volatility = vol
		pos := schema.Position{SymbolID: 1, Qty: qty}
		ladder := Compute(snap, pos, testSpec(), cfg)

		if ladder.Empty() {
			return
		}
		require.Equal(t, len(ladder.Bids), len(ladder.Asks))
		for i := range ladder.Bids {
			bid, ask := ladder.Bids[i], ladder.Asks[i]
			assert.Positive(t, bid.Price)
			assert.Positive(t, bid.Size)
			assert.Equal(t, bid.Size, ask.Size)
			assert.Less(t, bid.Price, ask.Price)
			assert.Less(t, bid.Price, snap.AskPrice)
			assert.Greater(t, ask.Price, snap.BidPrice)
			if i > 0 {
				assert.Less(t, bid.Price, ladder.Bids[i-1].Price, "bids strictly descending")
				assert.Greater(t, ask.Price, ladder.Asks[i-1].Price, "asks strictly ascending")
				assert.Less(t, bid.Size, ladder.Bids[i-1].Size, "sizes strictly descending for growth < 1")
			}
		}
		assert.Equal(t, ladder, Compute(snap, pos, testSpec(), cfg), "pure function")
	})
}
