package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/feed"
	"main/internal/maker"
	"main/internal/oms"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
)

// FileConfig mirrors the JSON config layout. Durations are expressed in
// milliseconds.
type FileConfig struct {
	Symbols  []SymbolConfig `json:"symbols"`
	Bus      BusConfig      `json:"bus"`
	OMS      OMSConfig      `json:"oms"`
	Risk     risk.Config    `json:"risk"`
	Feed     FeedConfig     `json:"feed"`
	Exchange ExchangeConfig `json:"exchange"`
	Store    StoreConfig    `json:"store"`
}

// SymbolConfig describes one quoted instrument.
type SymbolConfig struct {
	Name                  string          `json:"name"`
	ExchangeSymbol        string          `json:"exchangeSymbol"`
	PriceScale            schema.Scale    `json:"priceScale"`
	QuantityScale         schema.Scale    `json:"quantityScale"`
	TickSize              schema.Price    `json:"tickSize"`
	LotSize               schema.Quantity `json:"lotSize"`
	Quote                 quote.Config    `json:"quote"`
	RequotePriceThreshold schema.Price    `json:"requotePriceThreshold"`
	RequoteSizeThreshold  schema.Quantity `json:"requoteSizeThreshold"`
	MinRequoteIntervalMs  int64           `json:"minRequoteIntervalMs"`
}

// BusConfig sizes the event bus partitions.
type BusConfig struct {
	Capacity         int    `json:"capacity"`
	MarketDataPolicy string `json:"marketDataPolicy"`
}

// OMSConfig holds order management timings.
type OMSConfig struct {
	InflightTimeoutMs   int64 `json:"inflightTimeoutMs"`
	ReconcileIntervalMs int64 `json:"reconcileIntervalMs"`
}

// FeedConfig selects and parameterizes the market data source.
type FeedConfig struct {
	Mode        string          `json:"mode"` // "sim" or "binance"
	Seed        int64           `json:"seed"`
	BasePrice   schema.Price    `json:"basePrice"`
	SpreadTicks int64           `json:"spreadTicks"`
	WalkTicks   int64           `json:"walkTicks"`
	Size        schema.Quantity `json:"size"`
	IntervalMs  int64           `json:"intervalMs"`
}

// ExchangeConfig parameterizes the paper exchange.
type ExchangeConfig struct {
	Seed                int64   `json:"seed"`
	RejectRate          float64 `json:"rejectRate"`
	ReorderWindow       int     `json:"reorderWindow"`
	PartialFillPermille int64   `json:"partialFillPermille"`
	FlushIntervalMs     int64   `json:"flushIntervalMs"`
}

// StoreConfig enables fill/position persistence when a DSN is set.
type StoreConfig struct {
	DSN       string `json:"dsn"`
	BatchSize int    `json:"batchSize"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Registry          *schema.Registry
	Makers            map[schema.SymbolID]maker.Config
	ExchangeSymbols   map[string]string
	Bus               bus.Config
	OMS               oms.Config
	ReconcileInterval time.Duration
	Risk              risk.Config
	FeedMode          string
	FeedSim           feed.SimConfig
	Exchange          exchange.SimConfig
	ExchangeFlush     time.Duration
	StoreDSN          string
	StoreBatchSize    int
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a FileConfig and builds the registry and per-package
// configs from it.
func Resolve(cfg FileConfig) (Loaded, error) {
	if len(cfg.Symbols) == 0 {
		return Loaded{}, fmt.Errorf("config has no symbols")
	}

	reg := schema.NewRegistry()
	makers := make(map[schema.SymbolID]maker.Config, len(cfg.Symbols))
	exchangeSymbols := make(map[string]string, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		id, err := reg.AddSymbol(schema.SymbolSpec{
			Name:          sym.Name,
			PriceScale:    sym.PriceScale,
			QuantityScale: sym.QuantityScale,
			TickSize:      sym.TickSize,
			LotSize:       sym.LotSize,
		})
		if err != nil {
			return Loaded{}, err
		}
		mc := maker.Config{
			Quote:                 sym.Quote,
			RequotePriceThreshold: sym.RequotePriceThreshold,
			RequoteSizeThreshold:  sym.RequoteSizeThreshold,
			MinRequoteInterval:    time.Duration(sym.MinRequoteIntervalMs) * time.Millisecond,
		}
		if err := mc.Validate(); err != nil {
			return Loaded{}, fmt.Errorf("symbol %s: %w", sym.Name, err)
		}
		makers[id] = mc
		if sym.ExchangeSymbol != "" {
			exchangeSymbols[sym.ExchangeSymbol] = sym.Name
		}
	}

	busCfg, err := resolveBus(cfg.Bus)
	if err != nil {
		return Loaded{}, err
	}

	feedMode := cfg.Feed.Mode
	if feedMode == "" {
		feedMode = "sim"
	}
	if feedMode != "sim" && feedMode != "binance" {
		return Loaded{}, fmt.Errorf("unknown feed mode: %s", feedMode)
	}

	feedSim := resolveFeedSim(cfg.Feed)
	if feedMode == "sim" {
		if err := feedSim.Validate(); err != nil {
			return Loaded{}, fmt.Errorf("feed: %w", err)
		}
	}
	if feedMode == "binance" && len(exchangeSymbols) == 0 {
		return Loaded{}, fmt.Errorf("binance feed requires exchangeSymbol on at least one symbol")
	}

	exchangeCfg := exchange.SimConfig{
		Seed:                cfg.Exchange.Seed,
		RejectRate:          cfg.Exchange.RejectRate,
		ReorderWindow:       cfg.Exchange.ReorderWindow,
		PartialFillPermille: cfg.Exchange.PartialFillPermille,
	}
	if err := exchangeCfg.Validate(); err != nil {
		return Loaded{}, fmt.Errorf("exchange: %w", err)
	}

	return Loaded{
		Registry:          reg,
		Makers:            makers,
		ExchangeSymbols:   exchangeSymbols,
		Bus:               busCfg,
		OMS:               oms.Config{InflightTimeout: duration(cfg.OMS.InflightTimeoutMs, 5*time.Second)},
		ReconcileInterval: duration(cfg.OMS.ReconcileIntervalMs, time.Second),
		Risk:              cfg.Risk,
		FeedMode:          feedMode,
		FeedSim:           feedSim,
		Exchange:          exchangeCfg,
		ExchangeFlush:     duration(cfg.Exchange.FlushIntervalMs, 10*time.Millisecond),
		StoreDSN:          cfg.Store.DSN,
		StoreBatchSize:    cfg.Store.BatchSize,
	}, nil
}

func resolveBus(cfg BusConfig) (bus.Config, error) {
	out := bus.Config{Capacity: cfg.Capacity}
	if out.Capacity <= 0 {
		out.Capacity = 1024
	}
	switch cfg.MarketDataPolicy {
	case "", "dropOldest":
		out.MarketDataPolicy = bus.OverflowDropOldest
	case "block":
		out.MarketDataPolicy = bus.OverflowBlock
	default:
		return bus.Config{}, fmt.Errorf("unknown bus marketDataPolicy: %s", cfg.MarketDataPolicy)
	}
	return out, nil
}

func resolveFeedSim(cfg FeedConfig) feed.SimConfig {
	out := feed.SimConfig{
		Seed:        cfg.Seed,
		BasePrice:   cfg.BasePrice,
		SpreadTicks: cfg.SpreadTicks,
		WalkTicks:   cfg.WalkTicks,
		Size:        cfg.Size,
		Interval:    time.Duration(cfg.IntervalMs) * time.Millisecond,
	}
	if out.BasePrice <= 0 {
		out.BasePrice = 100_00
	}
	if out.SpreadTicks <= 0 {
		out.SpreadTicks = 2
	}
	if out.Size <= 0 {
		out.Size = 100_0000
	}
	if out.Interval <= 0 {
		out.Interval = 50 * time.Millisecond
	}
	return out
}

func duration(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
