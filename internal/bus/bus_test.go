package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

func twoSymbolRegistry(t *testing.T) (*schema.Registry, schema.SymbolID, schema.SymbolID) {
	t.Helper()
	reg := schema.NewRegistry()
	a, err := reg.AddSymbol(schema.SymbolSpec{Name: "BTC-USD", TickSize: 1, LotSize: 1})
	require.NoError(t, err)
	b, err := reg.AddSymbol(schema.SymbolSpec{Name: "ETH-USD", TickSize: 1, LotSize: 1})
	require.NoError(t, err)
	return reg, a, b
}

func marketEvent(symbolID schema.SymbolID, seq uint64) schema.Event {
	return schema.Event{
		Header:   schema.NewHeader(schema.EventMarketData, seq, int64(seq), int64(seq)),
		SymbolID: symbolID,
		Market:   &schema.MarketSnapshot{SymbolID: symbolID, Seq: seq},
	}
}

func orderEvent(symbolID schema.SymbolID, seq uint64) schema.Event {
	return schema.Event{
		Header:   schema.NewHeader(schema.EventOrder, seq, int64(seq), int64(seq)),
		SymbolID: symbolID,
		Order:    &schema.OrderUpdate{ClientID: seq, SymbolID: symbolID},
	}
}

func runBus(t *testing.T, b *Bus) (wait func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()
	return func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("bus did not drain")
		}
	}
}

func TestPerSymbolOrderingPreserved(t *testing.T) {
	reg, symA, symB := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 64}, nil)

	var mu sync.Mutex
	got := make(map[schema.SymbolID][]uint64)
	handler := func(e schema.Event) {
		mu.Lock()
		got[e.SymbolID] = append(got[e.SymbolID], e.Header.Seq)
		mu.Unlock()
	}
	require.NoError(t, b.Subscribe(symA, handler))
	require.NoError(t, b.Subscribe(symB, handler))

	wait := runBus(t, b)
	for seq := uint64(1); seq <= 20; seq++ {
		require.NoError(t, b.Publish(marketEvent(symA, seq)))
		require.NoError(t, b.Publish(marketEvent(symB, seq)))
	}
	b.Close()
	wait()

	for _, sym := range []schema.SymbolID{symA, symB} {
		require.Len(t, got[sym], 20)
		for i, seq := range got[sym] {
			assert.Equal(t, uint64(i+1), seq, "delivery order matches publish order")
		}
	}
}

func TestDropOldestEvictsOnlyMarketData(t *testing.T) {
	reg, symA, _ := twoSymbolRegistry(t)
	m := obs.NewMetrics()
	b := New(reg, Config{Capacity: 3, MarketDataPolicy: OverflowDropOldest}, m)

	var got []schema.Event
	require.NoError(t, b.Subscribe(symA, func(e schema.Event) {
		got = append(got, e)
	}))

	// Fill the partition before the dispatcher runs.
	require.NoError(t, b.Publish(marketEvent(symA, 1)))
	require.NoError(t, b.Publish(orderEvent(symA, 2)))
	require.NoError(t, b.Publish(marketEvent(symA, 3)))
	// Full: this publish evicts the oldest pending market data (seq 1).
	require.NoError(t, b.Publish(marketEvent(symA, 4)))

	wait := runBus(t, b)
	b.Close()
	wait()

	require.Len(t, got, 3)
	assert.Equal(t, schema.EventOrder, got[0].Header.Type, "order events are never dropped")
	assert.Equal(t, uint64(2), got[0].Header.Seq)
	assert.Equal(t, uint64(3), got[1].Header.Seq, "oldest market data was evicted, order preserved")
	assert.Equal(t, uint64(4), got[2].Header.Seq)
	assert.Equal(t, uint64(1), b.Drops())
	assert.Equal(t, uint64(1), m.Snapshot().BusDrops, "eviction reaches the shared metrics")
}

func TestBlockPolicyDropsNothing(t *testing.T) {
	reg, symA, _ := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 2, MarketDataPolicy: OverflowBlock}, nil)

	var got []uint64
	require.NoError(t, b.Subscribe(symA, func(e schema.Event) {
		time.Sleep(time.Millisecond)
		got = append(got, e.Header.Seq)
	}))

	wait := runBus(t, b)
	for seq := uint64(1); seq <= 10; seq++ {
		require.NoError(t, b.Publish(marketEvent(symA, seq)))
	}
	b.Close()
	wait()

	require.Len(t, got, 10, "blocking publisher never loses events")
	assert.Equal(t, uint64(0), b.Drops())
}

func TestTryPublishOverflow(t *testing.T) {
	reg, symA, _ := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 1}, nil)
	require.NoError(t, b.Subscribe(symA, func(schema.Event) {}))

	require.NoError(t, b.TryPublish(orderEvent(symA, 1)))
	assert.ErrorIs(t, b.TryPublish(orderEvent(symA, 2)), exception.ErrBusOverflow)
}

func TestSubscribeAllSeesEverySymbol(t *testing.T) {
	reg, symA, symB := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 16}, nil)

	var mu sync.Mutex
	seen := make(map[schema.SymbolID]int)
	require.NoError(t, b.SubscribeAll(func(e schema.Event) {
		mu.Lock()
		seen[e.SymbolID]++
		mu.Unlock()
	}))

	wait := runBus(t, b)
	require.NoError(t, b.Publish(marketEvent(symA, 1)))
	require.NoError(t, b.Publish(marketEvent(symB, 1)))
	b.Close()
	wait()

	assert.Equal(t, 1, seen[symA])
	assert.Equal(t, 1, seen[symB])
}

func TestPublishErrors(t *testing.T) {
	reg, symA, _ := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 4}, nil)

	assert.ErrorIs(t, b.Subscribe(99, func(schema.Event) {}), exception.ErrBusUnknownSymbol)
	assert.ErrorIs(t, b.Subscribe(symA, nil), exception.ErrBusNilHandler)
	assert.ErrorIs(t, b.Publish(marketEvent(99, 1)), exception.ErrBusUnknownSymbol)

	b.Close()
	assert.ErrorIs(t, b.Publish(marketEvent(symA, 1)), exception.ErrBusClosed)
	assert.ErrorIs(t, b.TryPublish(marketEvent(symA, 1)), exception.ErrBusClosed)
}

func TestCloseDeliversPending(t *testing.T) {
	reg, symA, _ := twoSymbolRegistry(t)
	b := New(reg, Config{Capacity: 16}, nil)

	var got []uint64
	require.NoError(t, b.Subscribe(symA, func(e schema.Event) {
		got = append(got, e.Header.Seq)
	}))

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, b.Publish(orderEvent(symA, seq)))
	}
	wait := runBus(t, b)
	b.Close()
	wait()

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got, "close drains before stopping")
}
