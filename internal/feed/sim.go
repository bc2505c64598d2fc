package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Publisher is where normalized snapshots land. Market data goes through the
// blocking publish path so the bus overflow policy applies.
type Publisher interface {
	Publish(schema.Event) error
}

// SimConfig controls the synthetic random-walk feed.
type SimConfig struct {
	Seed        int64           `json:"seed"`
	BasePrice   schema.Price    `json:"basePrice"`
	SpreadTicks int64           `json:"spreadTicks"`
	WalkTicks   int64           `json:"walkTicks"`
	Size        schema.Quantity `json:"size"`
	Interval    time.Duration   `json:"interval"`
}

// Validate ensures the config is within supported ranges.
func (c SimConfig) Validate() error {
	if c.BasePrice <= 0 {
		return fmt.Errorf("basePrice must be > 0")
	}
	if c.SpreadTicks <= 0 {
		return fmt.Errorf("spreadTicks must be > 0")
	}
	if c.WalkTicks < 0 {
		return fmt.Errorf("walkTicks must be >= 0")
	}
	if c.Size <= 0 {
		return fmt.Errorf("size must be > 0")
	}
	return nil
}

// Sim generates a seeded random-walk snapshot stream for every symbol in the
// registry. The same seed always produces the same tick sequence.
type Sim struct {
	cfg     SimConfig
	pub     Publisher
	rng     *rand.Rand
	symbols []schema.SymbolSpec
	mids    []int64
	vols    []int64
	seqs    []uint64
	nowFn   func() time.Time
}

// NewSim creates a generator over all registry symbols.
func NewSim(reg *schema.Registry, cfg SimConfig, pub Publisher) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	symbols := make([]schema.SymbolSpec, 0, reg.SymbolCount())
	mids := make([]int64, 0, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		spec, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		symbols = append(symbols, spec)
		mids = append(mids, int64(cfg.BasePrice)+int64(i)*int64(spec.TickSize))
	}
	return &Sim{
		cfg:     cfg,
		pub:     pub,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		symbols: symbols,
		mids:    mids,
		vols:    make([]int64, len(symbols)),
		seqs:    make([]uint64, len(symbols)),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Tick advances every symbol one step and publishes the resulting snapshots.
func (s *Sim) Tick() {
	now := s.nowFn().UnixNano()
	for i, spec := range s.symbols {
		tick := int64(spec.TickSize)
		if s.cfg.WalkTicks > 0 {
			step := (s.rng.Int63n(2*s.cfg.WalkTicks+1) - s.cfg.WalkTicks) * tick
			s.mids[i] += step
			if s.mids[i] < tick {
				s.mids[i] = tick
			}
			// Volatility is an EWMA of absolute mid moves, alpha 1/8.
			abs := step
			if abs < 0 {
				abs = -abs
			}
			s.vols[i] += (abs - s.vols[i]) / 8
		}

		half := s.cfg.SpreadTicks * tick / 2
		if half < tick {
			half = tick
		}
		s.seqs[i]++
		snap := schema.MarketSnapshot{
			SymbolID:   spec.ID,
			Seq:        s.seqs[i],
			BidPrice:   schema.Price(s.mids[i] - half),
			BidSize:    s.cfg.Size,
			AskPrice:   schema.Price(s.mids[i] + half),
			AskSize:    s.cfg.Size,
			MidPrice:   schema.Price(s.mids[i]),
			Volatility: schema.Price(s.vols[i]),
			TsEvent:    now,
		}
		e := schema.Event{
			Header:   schema.NewHeader(schema.EventMarketData, s.seqs[i], now, now),
			SymbolID: spec.ID,
			Market:   &snap,
		}
		if err := s.pub.Publish(e); err != nil {
			logs.Warnf("feed: sim publish %s failed: %+v", spec.Name, err)
		}
	}
}

// Run ticks on the configured interval until ctx is done.
func (s *Sim) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
