package feed

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
	"main/pkg/exception"
)

const binanceBaseWsURL = "wss://data-stream.binance.vision/ws"

// VolEstimator supplies the volatility field of a snapshot from the stream
// of observed mids. Implementations are external to the feed.
type VolEstimator func(symbolID schema.SymbolID, mid schema.Price) schema.Price

// Binance streams bookTicker updates and publishes normalized snapshots.
// Wire symbol names map exchange tickers (e.g. BTCUSDT) onto registry ids.
type Binance struct {
	wss       *ws.WebSocket
	reg       *schema.Registry
	pub       Publisher
	estimator VolEstimator
	symbols   map[string]schema.SymbolID
	seqs      map[schema.SymbolID]*atomic.Uint64
	reqID     atomic.Int64
}

// NewBinance creates an unstarted feed. symbols maps exchange ticker names
// to registry symbol names.
func NewBinance(ctx context.Context, reg *schema.Registry, pub Publisher, estimator VolEstimator, symbols map[string]string) (*Binance, error) {
	if reg == nil || pub == nil {
		return nil, fmt.Errorf("registry and publisher are required")
	}
	if estimator == nil {
		estimator = func(schema.SymbolID, schema.Price) schema.Price { return 0 }
	}
	b := &Binance{
		wss:       ws.New(ctx, binanceBaseWsURL),
		reg:       reg,
		pub:       pub,
		estimator: estimator,
		symbols:   make(map[string]schema.SymbolID, len(symbols)),
		seqs:      make(map[schema.SymbolID]*atomic.Uint64, len(symbols)),
	}
	for ticker, name := range symbols {
		id, ok := reg.SymbolIDByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown registry symbol: %s", name)
		}
		b.symbols[strings.ToUpper(ticker)] = id
		b.seqs[id] = &atomic.Uint64{}
	}
	return b, nil
}

func (b *Binance) Start(ctx context.Context) error {
	if err := b.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (b *Binance) Close() {
	b.wss.Close()
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeBookTicker subscribes the 'Individual Symbol Book Ticker' stream
// for every wired symbol.
func (b *Binance) SubscribeBookTicker(ctx context.Context) error {
	params := make([]string, 0, len(b.symbols))
	for ticker := range b.symbols {
		params = append(params, fmt.Sprintf("%s@bookTicker", strings.ToLower(ticker)))
	}
	id := b.reqID.Add(1)

	appendIntoRegister := true
	if err := b.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     id,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type binanceBookTicker struct {
	UpdateID int64           `json:"u"`
	Symbol   string          `json:"s"`
	BidPrice decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	AskPrice decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

// Observe consumes bookTicker messages until ctx or process shutdown.
func (b *Binance) Observe(ctx context.Context) (unsubscribe func()) {
	ch, cancel := b.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					logs.Warnf("feed: observe stopped: %+v", exception.ErrMarketDataFeedClosed)
					return
				}

				resp, ok := ws.ReadMessage[binanceBookTicker](m)
				if !ok || resp.Symbol == "" {
					continue
				}
				if err := b.handleBookTicker(resp); err != nil {
					logs.Warnf("feed: drop %s book ticker: %+v", resp.Symbol, err)
				}
			}
		}
	}()

	return cancel
}

func (b *Binance) handleBookTicker(t binanceBookTicker) error {
	symbolID, ok := b.symbols[t.Symbol]
	if !ok {
		return nil
	}
	spec, ok := b.reg.Symbol(symbolID)
	if !ok {
		return nil
	}

	bid, err := parseScaled(t.BidPrice.String(), spec.PriceScale)
	if err != nil {
		return errors.Wrap(err, "parse bid")
	}
	ask, err := parseScaled(t.AskPrice.String(), spec.PriceScale)
	if err != nil {
		return errors.Wrap(err, "parse ask")
	}
	bidSize, err := parseScaled(t.BidQty.String(), spec.QuantityScale)
	if err != nil {
		return errors.Wrap(err, "parse bid qty")
	}
	askSize, err := parseScaled(t.AskQty.String(), spec.QuantityScale)
	if err != nil {
		return errors.Wrap(err, "parse ask qty")
	}
	if bid <= 0 || ask <= 0 || bid >= ask {
		return errors.Wrap(exception.ErrMarketDataInvalidQuote, "book ticker").
			With("bid", bid).With("ask", ask)
	}

	mid := schema.Price((bid + ask) / 2)
	now := nowNano()
	seq := b.seqs[symbolID].Add(1)
	snap := schema.MarketSnapshot{
		SymbolID:   symbolID,
		Seq:        seq,
		BidPrice:   schema.Price(bid),
		BidSize:    schema.Quantity(bidSize),
		AskPrice:   schema.Price(ask),
		AskSize:    schema.Quantity(askSize),
		MidPrice:   mid,
		Volatility: b.estimator(symbolID, mid),
		TsEvent:    now,
	}
	e := schema.Event{
		Header:   schema.NewHeader(schema.EventMarketData, seq, now, now),
		SymbolID: symbolID,
		Market:   &snap,
	}
	if err := b.pub.Publish(e); err != nil {
		return errors.Wrap(err, "publish snapshot")
	}
	return nil
}
