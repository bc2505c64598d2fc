package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/feed"
	"main/internal/maker"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/ops"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/store"
)

// reloadableGuard lets the config watcher swap risk limits without touching
// the makers.
type reloadableGuard struct {
	v atomic.Pointer[risk.Guard]
}

func newReloadableGuard(cfg risk.Config) *reloadableGuard {
	g := &reloadableGuard{}
	g.v.Store(risk.NewGuard(cfg))
	return g
}

func (g *reloadableGuard) Check(snap schema.MarketSnapshot, pos schema.Position) error {
	return g.v.Load().Check(snap, pos)
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	paper := flag.Bool("paper", true, "Trade against the in-process exchange simulator")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address (empty=disabled)")
	pyroscopeURL := flag.String("pyroscope-url", "", "Pyroscope server address (empty=disabled)")
	runDuration := flag.Duration("duration", 0, "Run duration (0=until signal)")
	snapshotPath := flag.String("snapshot-path", "", "Position snapshot output on shutdown (empty=disabled)")
	flag.Parse()

	if !*paper {
		log.Fatal("live order routing is not wired; run with -paper")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runDuration)
		defer cancel()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	guard := newReloadableGuard(loaded.Risk)
	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload, func(l ops.Loaded) {
			guard.v.Store(risk.NewGuard(l.Risk))
		})
	}

	if *pyroscopeURL != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mm/maker",
			ServerAddress:   *pyroscopeURL,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	metrics := obs.NewMetrics()
	if *metricsAddr != "" {
		collector := obs.NewCollector("maker", metrics)
		go func() {
			if err := http.ListenAndServe(*metricsAddr, collector.Handler()); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	if err := run(ctx, loaded, guard, metrics, *snapshotPath); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded, guard maker.RiskChecker, metrics *obs.Metrics, snapshotPath string) error {
	reg := loaded.Registry
	b := bus.New(reg, loaded.Bus, metrics)
	book := state.NewBook()

	venue, err := exchange.NewSim(loaded.Exchange)
	if err != nil {
		return err
	}
	manager := oms.New(loaded.OMS, venue, b, book, metrics)
	venue.SetSink(manager)

	for id, cfg := range loaded.Makers {
		spec, ok := reg.Symbol(id)
		if !ok {
			continue
		}
		m, err := maker.New(cfg, spec, manager, guard, metrics)
		if err != nil {
			return err
		}
		if err := m.Attach(ctx, b); err != nil {
			return err
		}
	}

	// The simulator fills resting orders against each snapshot.
	if err := b.SubscribeAll(func(e schema.Event) {
		if e.Header.Type == schema.EventMarketData && e.Market != nil {
			venue.OnSnapshot(*e.Market)
		}
	}); err != nil {
		return err
	}

	var recorder *store.Recorder
	if loaded.StoreDSN != "" {
		client, err := store.Open(store.Option{DSN: loaded.StoreDSN})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		recorder = store.NewRecorder(client, reg, loaded.StoreBatchSize)
		if err := b.SubscribeAll(recorder.Handle); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(runCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.RunReconcile(runCtx, loaded.ReconcileInterval)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		venue.Run(runCtx, loaded.ExchangeFlush)
	}()
	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(runCtx)
		}()
	}

	if err := startFeed(runCtx, loaded, reg, b, &wg); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	<-ctx.Done()
	log.Print("shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	manager.Drain(drainCtx)
	drainCancel()

	b.Close()
	cancel()
	wg.Wait()

	if snapshotPath != "" {
		if err := state.WriteSnapshot(snapshotPath, book.Snapshot()); err != nil {
			return err
		}
		log.Printf("position snapshot written: %s", snapshotPath)
	}

	snap := metrics.Snapshot()
	log.Printf("metrics: events=%v intents=%v requotes=%d stale_acks=%d stale_snaps=%d bus_drops=%d lost=%d timeouts=%d risk_denies=%d tick_to_quote=%+v compute=%+v apply=%+v",
		snap.EventCounts, snap.IntentCounts, snap.Requotes, snap.StaleAcks, snap.StaleSnapshots,
		b.Drops(), snap.LostEvents, snap.InflightTimeout, snap.RiskDenies,
		snap.TickToQuote, snap.ComputeLatency, snap.ApplyLatency)
	return nil
}

func startFeed(ctx context.Context, loaded ops.Loaded, reg *schema.Registry, b *bus.Bus, wg *sync.WaitGroup) error {
	switch loaded.FeedMode {
	case "binance":
		src, err := feed.NewBinance(ctx, reg, b, newEWMAEstimator(), loaded.ExchangeSymbols)
		if err != nil {
			return err
		}
		if err := src.Start(ctx); err != nil {
			return err
		}
		if err := src.SubscribeBookTicker(ctx); err != nil {
			return err
		}
		src.Observe(ctx)
		return nil
	default:
		src, err := feed.NewSim(reg, loaded.FeedSim, b)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.Run(ctx)
		}()
		return nil
	}
}

// newEWMAEstimator returns a volatility estimator over absolute mid moves.
// Only ever called from the feed goroutine, so the state needs no lock.
func newEWMAEstimator() feed.VolEstimator {
	lastMid := make(map[schema.SymbolID]schema.Price)
	vol := make(map[schema.SymbolID]int64)
	return func(symbolID schema.SymbolID, mid schema.Price) schema.Price {
		prev, ok := lastMid[symbolID]
		lastMid[symbolID] = mid
		if !ok {
			return 0
		}
		move := int64(mid - prev)
		if move < 0 {
			move = -move
		}
		vol[symbolID] += (move - vol[symbolID]) / 8
		return schema.Price(vol[symbolID])
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

func defaultLoaded() (ops.Loaded, error) {
	return ops.Resolve(ops.FileConfig{
		Symbols: []ops.SymbolConfig{{
			Name:          "TEST-USD",
			PriceScale:    2,
			QuantityScale: 4,
			TickSize:      1,
			LotSize:       1,
			Quote: quote.Config{
				SpreadBps:           10,
				VolWidthPermille:    500,
				MinTickDistance:     1,
				SkewBps:             20,
				MaxSkewBps:          40,
				BaseSize:            10_0000,
				SizeGrowthPermille:  600,
				Levels:              3,
				MaxExposureNotional: 1_000_000_000_000,
			},
			RequotePriceThreshold: 2,
			RequoteSizeThreshold:  0,
			MinRequoteIntervalMs:  20,
		}},
		Risk: risk.Config{
			MaxPositionNotional:  500_000_000_000,
			MaxPriceDeviationBps: 500,
		},
		Feed: ops.FeedConfig{
			Mode:        "sim",
			Seed:        1,
			BasePrice:   100_00,
			SpreadTicks: 2,
			WalkTicks:   3,
			Size:        100_0000,
			IntervalMs:  50,
		},
	})
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Printf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			log.Printf("config reloaded: %s", path)
		}
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
