package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/maker"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/quote"
	"main/internal/schema"
	"main/internal/state"
)

type stack struct {
	reg     *schema.Registry
	symbol  schema.SymbolID
	bus     *bus.Bus
	venue   *exchange.Sim
	manager *oms.OMS

	mu        sync.Mutex
	orders    []schema.OrderUpdate
	positions []schema.Position
	marketSeq uint64
}

// newStack wires a bus, position book, simulated venue and OMS the way the
// binary does, with market data events feeding the venue fill loop.
func newStack(t *testing.T, simCfg exchange.SimConfig) *stack {
	t.Helper()

	reg := schema.NewRegistry()
	symbolID, err := reg.AddSymbol(schema.SymbolSpec{
		Name:          "BTC-USD",
		PriceScale:    2,
		QuantityScale: 0,
		TickSize:      1,
		LotSize:       1,
	})
	require.NoError(t, err)

	metrics := obs.NewMetrics()
	b := bus.New(reg, bus.Config{Capacity: 256}, metrics)
	venue, err := exchange.NewSim(simCfg)
	require.NoError(t, err)
	manager := oms.New(oms.Config{InflightTimeout: time.Second}, venue, b, state.NewBook(), metrics)
	venue.SetSink(manager)

	s := &stack{reg: reg, symbol: symbolID, bus: b, venue: venue, manager: manager}
	require.NoError(t, b.SubscribeAll(func(e schema.Event) {
		switch {
		case e.Market != nil:
			venue.OnSnapshot(*e.Market)
		case e.Order != nil:
			s.mu.Lock()
			s.orders = append(s.orders, *e.Order)
			s.mu.Unlock()
		case e.Position != nil:
			s.mu.Lock()
			s.positions = append(s.positions, *e.Position)
			s.mu.Unlock()
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return s
}

func (s *stack) publishSnapshot(t *testing.T, bid, ask schema.Price) {
	t.Helper()
	s.marketSeq++
	now := time.Now().UnixNano()
	snap := schema.MarketSnapshot{
		SymbolID: s.symbol,
		Seq:      s.marketSeq,
		BidPrice: bid,
		AskPrice: ask,
		MidPrice: (bid + ask) / 2,
		TsEvent:  now,
	}
	require.NoError(t, s.bus.Publish(schema.Event{
		Header:   schema.NewHeader(schema.EventMarketData, s.marketSeq, now, now),
		SymbolID: s.symbol,
		Market:   &snap,
	}))
}

func (s *stack) orderKinds() []schema.OrderUpdateKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.OrderUpdateKind, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.Kind
	}
	return out
}

func (s *stack) positionQtys() []schema.Quantity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Quantity, len(s.positions))
	for i, p := range s.positions {
		out[i] = p.Qty
	}
	return out
}

func TestOrderLifecycleThroughBusAndVenue(t *testing.T) {
	s := newStack(t, exchange.SimConfig{Seed: 7, PartialFillPermille: 300})
	ctx := context.Background()

	clientID, err := s.manager.Place(ctx, s.symbol, schema.OrderSideBuy, 100_00, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.venue.Flush()
		view, ok := s.manager.Order(clientID)
		return ok && view.State == oms.StateOpen
	}, 2*time.Second, time.Millisecond)

	// One crossing snapshot produces one partial fill of 30% of the
	// remaining quantity.
	s.publishSnapshot(t, 99_90, 99_95)
	require.Eventually(t, func() bool {
		s.venue.Flush()
		return s.manager.Position(s.symbol).Qty == 3
	}, 2*time.Second, time.Millisecond)

	// Keep crossing until the remainder drains and the order terminates.
	require.Eventually(t, func() bool {
		s.publishSnapshot(t, 99_90, 99_95)
		s.venue.Flush()
		view, _ := s.manager.Order(clientID)
		return view.State == oms.StateFilled
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, schema.Quantity(10), s.manager.Position(s.symbol).Qty)
	assert.Empty(t, s.manager.OpenOrders(s.symbol))

	require.Eventually(t, func() bool {
		kinds := s.orderKinds()
		return len(kinds) > 0 && kinds[len(kinds)-1] == schema.OrderUpdateFilled
	}, 2*time.Second, time.Millisecond)

	kinds := s.orderKinds()
	assert.Equal(t, schema.OrderUpdateAcked, kinds[0])
	assert.Contains(t, kinds, schema.OrderUpdatePartiallyFilled)

	qtys := s.positionQtys()
	require.NotEmpty(t, qtys)
	assert.Equal(t, schema.Quantity(3), qtys[0], "first fill delta is 3")
	for i := 1; i < len(qtys); i++ {
		assert.GreaterOrEqual(t, qtys[i], qtys[i-1], "long position only grows while buying")
	}
	assert.Equal(t, schema.Quantity(10), qtys[len(qtys)-1])
}

func TestMakerQuotesThroughFullLoop(t *testing.T) {
	s := newStack(t, exchange.SimConfig{Seed: 11})

	spec, ok := s.reg.Symbol(s.symbol)
	require.True(t, ok)
	m, err := maker.New(maker.Config{
		Quote: quote.Config{
			SpreadBps:           10,
			MinTickDistance:     1,
			BaseSize:            100,
			SizeGrowthPermille:  600,
			Levels:              2,
			MaxExposureNotional: 10_000_000,
		},
		RequotePriceThreshold: 5,
		RequoteSizeThreshold:  10,
	}, spec, s.manager, nil, obs.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, m.Attach(context.Background(), s.bus))

	s.publishSnapshot(t, 99_99, 100_01)
	require.Eventually(t, func() bool {
		s.venue.Flush()
		return len(s.manager.OpenOrders(s.symbol)) == 4
	}, 2*time.Second, time.Millisecond)

	for _, view := range s.manager.OpenOrders(s.symbol) {
		if view.Side == schema.OrderSideBuy {
			assert.LessOrEqual(t, view.Price, schema.Price(99_95))
		} else {
			assert.GreaterOrEqual(t, view.Price, schema.Price(100_05))
		}
	}

	// The market trades down through the resting bids; fills flow back to
	// the maker, which frees those levels and quotes around the new mid.
	require.Eventually(t, func() bool {
		s.publishSnapshot(t, 99_80, 99_85)
		s.venue.Flush()
		return s.manager.Position(s.symbol).Qty > 0
	}, 2*time.Second, time.Millisecond)
}
