package quote

import (
	"fmt"

	"main/internal/schema"
)

const (
	bpsDenom      = int64(10_000)
	permilleDenom = int64(1_000)
	maxInt64      = int64(^uint64(0) >> 1)
)

// Config holds the per-symbol quoting parameters.
type Config struct {
	SpreadBps           int64           `json:"spreadBps"`
	VolWidthPermille    int64           `json:"volWidthPermille"`
	MinTickDistance     int64           `json:"minTickDistance"`
	SkewBps             int64           `json:"skewBps"`
	MaxSkewBps          int64           `json:"maxSkewBps"`
	BaseSize            schema.Quantity `json:"baseSize"`
	SizeGrowthPermille  int64           `json:"sizeGrowthPermille"`
	Levels              int             `json:"levels"`
	MaxExposureNotional schema.Notional `json:"maxExposureNotional"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.SpreadBps <= 0 {
		return fmt.Errorf("spreadBps must be > 0")
	}
	if c.VolWidthPermille < 0 {
		return fmt.Errorf("volWidthPermille must be >= 0")
	}
	if c.MinTickDistance <= 0 {
		return fmt.Errorf("minTickDistance must be > 0")
	}
	if c.SkewBps < 0 || c.MaxSkewBps < 0 {
		return fmt.Errorf("skew bps must be >= 0")
	}
	if c.BaseSize <= 0 {
		return fmt.Errorf("baseSize must be > 0")
	}
	if c.SizeGrowthPermille <= 0 {
		return fmt.Errorf("sizeGrowthPermille must be > 0")
	}
	if c.Levels <= 0 {
		return fmt.Errorf("levels must be > 0")
	}
	if c.MaxExposureNotional <= 0 {
		return fmt.Errorf("maxExposureNotional must be > 0")
	}
	return nil
}

// Level is a single (price, size) quote.
type Level struct {
	Price schema.Price
	Size  schema.Quantity
}

// Ladder is the target quote set per side, innermost level first. Produced
// fresh on every computation and immutable afterwards.
type Ladder struct {
	Bids []Level
	Asks []Level
}

// Empty reports whether the ladder has no levels on either side.
func (l Ladder) Empty() bool {
	return len(l.Bids) == 0 && len(l.Asks) == 0
}

// Compute maps a market snapshot and the current position to a target quote
// ladder. It is pure and deterministic: identical inputs always yield the
// identical ladder.
//
// The half-spread is the base bps spread widened by the volatility estimate
// and floored at MinTickDistance ticks from mid. The quoting mid is shifted
// against the inventory sign (a long position quotes lower, biasing toward
// selling), with the shift clamped to MaxSkewBps and quotes clamped so a bid
// never reaches the true best ask and an ask never reaches the true best bid.
// Level sizes follow BaseSize * growth^k in permille, with the total ladder
// notional capped by MaxExposureNotional.
func Compute(snap schema.MarketSnapshot, pos schema.Position, spec schema.SymbolSpec, cfg Config) Ladder {
	mid := snap.MidPrice
	if mid == 0 {
		mid = schema.Price((int64(snap.BidPrice) + int64(snap.AskPrice)) / 2)
	}
	if mid <= 0 {
		return Ladder{}
	}
	tick := int64(spec.TickSize)

	halfSpread := mulDiv(int64(mid), cfg.SpreadBps, 2*bpsDenom) + mulDiv(int64(snap.Volatility), cfg.VolWidthPermille, permilleDenom)
	if minDist := cfg.MinTickDistance * tick; halfSpread < minDist {
		halfSpread = minDist
	}

	quoteMid := int64(mid) - skewShift(int64(mid), pos, cfg)

	sizes := levelSizes(spec, cfg)
	bids := make([]Level, 0, len(sizes))
	asks := make([]Level, 0, len(sizes))

	bidCeil := int64(snap.AskPrice) - tick
	askFloor := int64(snap.BidPrice) + tick

	total := int64(0)
	budget := int64(cfg.MaxExposureNotional)
	prevBid, prevAsk := int64(0), int64(0)
	for k, size := range sizes {
		offset := halfSpread + int64(k)*halfSpread
		bid := roundDown(quoteMid-offset, tick)
		ask := roundUp(quoteMid+offset, tick)
		if snap.AskPrice > 0 && bid > bidCeil {
			bid = roundDown(bidCeil, tick)
		}
		if snap.BidPrice > 0 && ask < askFloor {
			ask = roundUp(askFloor, tick)
		}
		if k > 0 {
			if bid >= prevBid {
				bid = prevBid - tick
			}
			if ask <= prevAsk {
				ask = prevAsk + tick
			}
		}
		if bid <= 0 {
			break
		}
		prevBid, prevAsk = bid, ask

		// Both sides of a level share the size; budget the level at the
		// wider (ask) price so the cap holds in the worst case.
		levelNotional := 2 * mulDiv(int64(size), ask, 1)
		if total+levelNotional > budget {
			break
		}
		total += levelNotional

		bids = append(bids, Level{Price: schema.Price(bid), Size: size})
		asks = append(asks, Level{Price: schema.Price(ask), Size: size})
	}

	return Ladder{Bids: bids, Asks: asks}
}

// skewShift returns the signed price shift applied to the quoting mid.
// Positive for a long position (quotes move down).
func skewShift(mid int64, pos schema.Position, cfg Config) int64 {
	if cfg.SkewBps == 0 || pos.Qty == 0 || cfg.MaxExposureNotional <= 0 {
		return 0
	}
	posNotional := mulDiv(int64(pos.Qty), mid, 1)
	skewBps := mulDiv(posNotional, cfg.SkewBps, int64(cfg.MaxExposureNotional))
	if cfg.MaxSkewBps > 0 {
		if skewBps > cfg.MaxSkewBps {
			skewBps = cfg.MaxSkewBps
		}
		if skewBps < -cfg.MaxSkewBps {
			skewBps = -cfg.MaxSkewBps
		}
	}
	return mulDiv(mid, skewBps, bpsDenom)
}

// levelSizes produces the strictly monotonic geometric size sequence,
// rounded to lot and never zero. The sequence truncates once strict
// monotonicity cannot be held at lot resolution.
func levelSizes(spec schema.SymbolSpec, cfg Config) []schema.Quantity {
	lot := int64(spec.LotSize)
	sizes := make([]schema.Quantity, 0, cfg.Levels)

	size := roundDown(int64(cfg.BaseSize), lot)
	if size < lot {
		size = lot
	}
	raw := size
	for k := 0; k < cfg.Levels; k++ {
		sizes = append(sizes, schema.Quantity(size))
		raw = mulDiv(raw, cfg.SizeGrowthPermille, permilleDenom)
		next := roundDown(raw, lot)
		switch {
		case cfg.SizeGrowthPermille < permilleDenom:
			if next >= size {
				next = size - lot
			}
		case cfg.SizeGrowthPermille > permilleDenom:
			if next <= size {
				next = size + lot
			}
		}
		if next < lot {
			return sizes
		}
		size = next
	}
	return sizes
}

// mulDiv computes a*num/den with reduced intermediate overflow, saturating
// instead of wrapping.
func mulDiv(a, num, den int64) int64 {
	if den == 0 {
		return 0
	}
	q := a / den
	r := a % den
	if overflow(q, num) {
		if (a < 0) != (num < 0) {
			return -maxInt64
		}
		return maxInt64
	}
	return q*num + r*num/den
}

func overflow(a, b int64) bool {
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

func roundDown(v, step int64) int64 {
	if step <= 0 {
		return v
	}
	if v < 0 {
		return -roundUp(-v, step)
	}
	return v - v%step
}

func roundUp(v, step int64) int64 {
	if step <= 0 {
		return v
	}
	if v < 0 {
		return -roundDown(-v, step)
	}
	if r := v % step; r != 0 {
		return v + step - r
	}
	return v
}
